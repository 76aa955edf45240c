// Package interaction decides what the device is doing with the person in
// front of it. A small state machine folds each tick's recognition outcome
// and touch events into one State value; everything else in the loop only
// reads snapshots of it.
package interaction

import "time"

// Mode is the committed recognition state.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeRecognizing
	ModeRecognized
	ModeUnrecognized
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecognizing:
		return "recognizing"
	case ModeRecognized:
		return "recognized"
	case ModeUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Region is the vertical third of the screen a touch landed in.
type Region uint8

const (
	RegionNone Region = iota
	RegionTop
	RegionMiddle
	RegionBottom
)

func (r Region) String() string {
	switch r {
	case RegionTop:
		return "top"
	case RegionMiddle:
		return "middle"
	case RegionBottom:
		return "bottom"
	default:
		return "none"
	}
}

// Outcome is one recognition pass result. The zero value means no face.
type Outcome struct {
	FaceSeen bool
	Matched  bool
	Label    string
	Distance float64
}

// NoFace reports an empty frame.
func NoFace() Outcome { return Outcome{} }

// Unmatched reports a face that resolved to no enrolled identity.
func Unmatched() Outcome { return Outcome{FaceSeen: true} }

// Matched reports a face resolved to an enrolled identity.
func Matched(label string, distance float64) Outcome {
	return Outcome{FaceSeen: true, Matched: true, Label: label, Distance: distance}
}

// State is what the renderer gets. Label and Distance are meaningful only
// when Mode is ModeRecognized.
type State struct {
	Mode     Mode
	Label    string
	Distance float64
	Since    time.Time

	TouchActive bool
	Region      Region
	LongPress   bool
}
