package loop

import (
	"gocv.io/x/gocv"

	"miru/internal/face"
	"miru/internal/identity"
	"miru/internal/interaction"
)

// FaceRecognizer composes the face pipeline with the identity store into
// the loop's Recognizer. The pipeline and store stay owned by the caller.
type FaceRecognizer struct {
	Pipeline *face.Pipeline
	Store    *identity.Store
}

// Recognize embeds the best face in the frame and looks it up. No face is a
// valid outcome, not an error.
func (r *FaceRecognizer) Recognize(img gocv.Mat) (interaction.Outcome, error) {
	obs, err := r.Pipeline.Process(img)
	if err != nil {
		return interaction.NoFace(), err
	}
	if len(obs) == 0 {
		return interaction.NoFace(), nil
	}

	match, ok := r.Store.Lookup(obs[0].Embedding)
	if !ok {
		return interaction.Unmatched(), nil
	}
	return interaction.Matched(match.Label, match.Distance), nil
}
