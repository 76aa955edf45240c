// Package identity is the persisted face template store: person labels mapped
// to one or more embedding vectors, with nearest-neighbor lookup under a
// cosine distance threshold. The store file is a single versioned JSON
// document replaced atomically on every write; a corrupt file degrades to an
// empty working store, never a startup failure.
package identity

import (
	"errors"
	"time"
)

// Vector is one face embedding. The SFace model produces 128 L2-normalized
// float32 components; enrollment fixes the dimension for the whole store.
type Vector = []float32

// Person is one identity: a display label plus its enrolled templates.
type Person struct {
	Label      string
	Templates  []Vector
	EnrolledAt time.Time
	UpdatedAt  time.Time
}

// Match is a successful lookup: the matched display label and the exact
// cosine distance of the best template.
type Match struct {
	Label    string
	Distance float64
}

// Summary describes one enrolled person for listings.
type Summary struct {
	Label      string
	Templates  int
	EnrolledAt time.Time
	UpdatedAt  time.Time
}

// ErrStoreCorrupt marks a store file that could not be read back. Open
// recovers from it by moving the file aside and starting empty.
var ErrStoreCorrupt = errors.New("identity store corrupt")

// distanceEpsilon bounds the ambiguity window: candidates within this much of
// the minimum distance are considered tied and broken deterministically.
const distanceEpsilon = 1e-6
