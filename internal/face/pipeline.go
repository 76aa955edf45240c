package face

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"miru/internal/config"
	"miru/internal/logging"
)

const detectTopK = 5000

// Pipeline owns the detector and recognizer handles. It is used from the
// loop goroutine only.
type Pipeline struct {
	cfg        config.PipelineConfig
	detector   gocv.FaceDetectorYN
	recognizer gocv.FaceRecognizerSF
	maxFaces   int
	log        *logging.Logger
}

// NewPipeline loads both models. Missing model files fail here, at startup,
// not on the first frame.
func NewPipeline(cfg config.PipelineConfig) (*Pipeline, error) {
	if _, err := os.Stat(cfg.DetectorModel); err != nil {
		return nil, fmt.Errorf("detector model: %w", err)
	}
	if _, err := os.Stat(cfg.RecognizerModel); err != nil {
		return nil, fmt.Errorf("recognizer model: %w", err)
	}

	maxFaces := cfg.MaxFaces
	if maxFaces <= 0 {
		maxFaces = 1
	}

	p := &Pipeline{
		cfg: cfg,
		detector: gocv.NewFaceDetectorYNWithParams(
			cfg.DetectorModel, "",
			image.Pt(cfg.DetectWidth, cfg.DetectHeight),
			float32(cfg.ScoreThreshold), float32(cfg.NMSThreshold), detectTopK,
			int(gocv.NetBackendDefault), int(gocv.NetTargetCPU),
		),
		recognizer: gocv.NewFaceRecognizerSF(cfg.RecognizerModel, ""),
		maxFaces:   maxFaces,
		log:        logging.Named("face"),
	}
	p.log.Info().
		Str("detector", cfg.DetectorModel).
		Str("recognizer", cfg.RecognizerModel).
		Int("max_faces", maxFaces).
		Msg("face pipeline ready")
	return p, nil
}

// Detect locates faces in a frame, largest first, in frame coordinates.
func (p *Pipeline) Detect(img gocv.Mat) ([]Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	dw, dh := p.cfg.DetectWidth, p.cfg.DetectHeight
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(img, &small, image.Pt(dw, dh), 0, 0, gocv.InterpolationLinear)

	faces := gocv.NewMat()
	defer faces.Close()
	p.detector.Detect(small, &faces)

	sx := float32(img.Cols()) / float32(dw)
	sy := float32(img.Rows()) / float32(dh)
	dets := decodeDetections(faces, sx, sy)
	return prepareDetections(dets, p.cfg.MinFacePx), nil
}

// Align crops the face into the canonical 112x112 SFace frame using a
// similarity transform from the detected landmarks. The caller closes the
// returned Mat.
func (p *Pipeline) Align(img gocv.Mat, det Detection) (gocv.Mat, error) {
	from := gocv.NewPoint2fVectorFromPoints(det.Landmarks[:])
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(canonicalLandmarks[:])
	defer to.Close()

	m := gocv.EstimateAffinePartial2D(from, to)
	defer m.Close()
	if m.Empty() {
		return gocv.Mat{}, ErrAlignmentFailure
	}

	aligned := gocv.NewMat()
	gocv.WarpAffine(img, &aligned, m, image.Pt(alignSize, alignSize))
	return aligned, nil
}

// Embed computes the SFace feature vector for an aligned crop.
func (p *Pipeline) Embed(aligned gocv.Mat) ([]float32, error) {
	feature := gocv.NewMat()
	defer feature.Close()
	p.recognizer.Feature(aligned, &feature)
	if feature.Empty() {
		return nil, fmt.Errorf("recognizer returned empty feature")
	}

	data, err := feature.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading feature: %w", err)
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Process runs the full pipeline over one frame: detect once, then align
// and embed the best detections. A detection that fails to align or embed
// is dropped; the rest of the tick continues.
func (p *Pipeline) Process(img gocv.Mat) ([]Observation, error) {
	dets, err := p.Detect(img)
	if err != nil {
		return nil, err
	}
	if len(dets) > p.maxFaces {
		dets = dets[:p.maxFaces]
	}

	out := make([]Observation, 0, len(dets))
	for _, det := range dets {
		aligned, err := p.Align(img, det)
		if err != nil {
			if errors.Is(err, ErrAlignmentFailure) {
				p.log.Debug().
					Float32("confidence", det.Confidence).
					Msg("dropping unalignable detection")
				continue
			}
			return out, err
		}
		emb, err := p.Embed(aligned)
		aligned.Close()
		if err != nil {
			p.log.Debug().Err(err).Msg("dropping detection without embedding")
			continue
		}
		out = append(out, Observation{Detection: det, Embedding: emb})
	}
	return out, nil
}

// Close releases the model handles.
func (p *Pipeline) Close() error {
	p.detector.Close()
	p.recognizer.Close()
	return nil
}
