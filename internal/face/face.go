// Package face turns camera frames into identity embeddings. Detection runs
// YuNet at a reduced size, alignment maps the five detected landmarks onto
// the canonical SFace layout, and embedding runs SFace over the aligned
// crop. Every stage fails per detection, never per frame.
package face

import (
	"errors"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// ErrAlignmentFailure means the landmark geometry gave no usable similarity
// transform. The detection is dropped and the tick goes on.
var ErrAlignmentFailure = errors.New("face alignment failed")

// alignSize is the SFace input crop edge.
const alignSize = 112

// canonicalLandmarks are the SFace reference positions inside the 112x112
// crop: right eye, left eye, nose tip, right and left mouth corner.
var canonicalLandmarks = [5]gocv.Point2f{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// Detection is one face located in a frame, in frame coordinates.
type Detection struct {
	Box        image.Rectangle
	Confidence float32
	Landmarks  [5]gocv.Point2f
}

// Observation is a detection with its embedding.
type Observation struct {
	Detection Detection
	Embedding []float32
}

// decodeDetections unpacks the YuNet output rows. Each row is 15 floats:
// box x/y/w/h, five landmark pairs, then the score. sx and sy scale the
// detection-size coordinates back to frame coordinates.
func decodeDetections(faces gocv.Mat, sx, sy float32) []Detection {
	n := faces.Rows()
	if n <= 0 || faces.Cols() < 15 {
		return nil
	}
	out := make([]Detection, 0, n)
	for r := 0; r < n; r++ {
		x := faces.GetFloatAt(r, 0) * sx
		y := faces.GetFloatAt(r, 1) * sy
		w := faces.GetFloatAt(r, 2) * sx
		h := faces.GetFloatAt(r, 3) * sy

		det := Detection{
			Box: image.Rect(
				int(x+0.5), int(y+0.5),
				int(x+w+0.5), int(y+h+0.5),
			),
			Confidence: faces.GetFloatAt(r, 14),
		}
		for i := 0; i < 5; i++ {
			det.Landmarks[i] = gocv.Point2f{
				X: faces.GetFloatAt(r, 4+2*i) * sx,
				Y: faces.GetFloatAt(r, 5+2*i) * sy,
			}
		}
		out = append(out, det)
	}
	return out
}

// prepareDetections drops faces under the minimum edge length and orders the
// rest largest first.
func prepareDetections(dets []Detection, minFacePx int) []Detection {
	kept := dets[:0]
	for _, d := range dets {
		if d.Box.Dx() < minFacePx || d.Box.Dy() < minFacePx {
			continue
		}
		kept = append(kept, d)
	}
	sort.Slice(kept, func(i, j int) bool {
		ai := kept[i].Box.Dx() * kept[i].Box.Dy()
		aj := kept[j].Box.Dx() * kept[j].Box.Dy()
		return ai > aj
	})
	return kept
}
