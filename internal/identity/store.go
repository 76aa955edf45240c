package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"

	"miru/internal/logging"
)

// Options tune the store. Zero values fall back to the defaults.
type Options struct {
	Threshold  float64 // acceptance distance, a lookup matches when distance <= Threshold
	ANNCutover int     // template count above which lookups use the HNSW shortlist
	Dim        int     // expected embedding dimension; 0 accepts the first enrolled
}

const (
	DefaultThreshold  = 0.4
	DefaultANNCutover = 256

	storeVersion = 1
	storeMetric  = "cosine"
)

// Store maps person labels to enrolled embedding templates. Lookups run
// concurrently under a read lock; enrollment and removal are serialized
// writers, so a reader always observes a complete template set.
type Store struct {
	mu        sync.RWMutex
	path      string
	threshold float64
	cutover   int
	wantDim   int
	dim       int
	people    map[string]*Person // keyed by NormalizeLabel
	templates int
	ix        *index
	log       *logging.Logger
}

type storeFile struct {
	Version int            `json:"version"`
	Metric  string         `json:"metric"`
	Dim     int            `json:"dim"`
	People  []personRecord `json:"people"`
}

type personRecord struct {
	Label      string      `json:"label"`
	Templates  [][]float32 `json:"templates"`
	EnrolledAt time.Time   `json:"enrolled_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Open loads the store at path. A missing file yields an empty store; a file
// that cannot be read back is moved aside to <path>.corrupt and the store
// starts empty. Open fails only on unusable options, never on store content.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("identity: store path must not be empty")
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Threshold < 0 || opts.Threshold > 2 {
		return nil, fmt.Errorf("identity: threshold %v out of range (0, 2]", opts.Threshold)
	}
	if opts.ANNCutover <= 0 {
		opts.ANNCutover = DefaultANNCutover
	}

	s := &Store{
		path:      path,
		threshold: opts.Threshold,
		cutover:   opts.ANNCutover,
		wantDim:   opts.Dim,
		dim:       opts.Dim,
		people:    make(map[string]*Person),
		log:       logging.Named("identity"),
	}

	if err := s.load(); err != nil {
		s.quarantine(err)
	}
	if s.templates > s.cutover {
		s.ix = buildIndex(s.people)
	}

	s.log.Info().
		Str("path", path).
		Int("people", len(s.people)).
		Int("templates", s.templates).
		Float64("threshold", s.threshold).
		Msg("identity store ready")
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	if file.Version != storeVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrStoreCorrupt, file.Version)
	}
	if file.Metric != storeMetric {
		return fmt.Errorf("%w: unsupported metric %q", ErrStoreCorrupt, file.Metric)
	}

	dim := s.dim
	if dim == 0 {
		dim = file.Dim
	}

	for _, rec := range file.People {
		key := NormalizeLabel(rec.Label)
		if key == "" || len(rec.Templates) == 0 {
			continue
		}
		for _, tpl := range rec.Templates {
			if len(tpl) == 0 || (dim > 0 && len(tpl) != dim) {
				return fmt.Errorf("%w: template for %q has dimension %d, want %d",
					ErrStoreCorrupt, rec.Label, len(tpl), dim)
			}
			if dim == 0 {
				dim = len(tpl)
			}
		}

		p, ok := s.people[key]
		if !ok {
			p = &Person{Label: rec.Label, EnrolledAt: rec.EnrolledAt, UpdatedAt: rec.UpdatedAt}
			s.people[key] = p
		} else if rec.UpdatedAt.After(p.UpdatedAt) {
			// Duplicate labels in the file collapse into one person.
			p.UpdatedAt = rec.UpdatedAt
		}
		for _, tpl := range rec.Templates {
			p.Templates = append(p.Templates, cloneVector(tpl))
		}
		s.templates += len(rec.Templates)
	}

	s.dim = dim
	return nil
}

// quarantine resets to an empty store after a failed load, preserving a
// corrupt file as a sidecar for inspection.
func (s *Store) quarantine(loadErr error) {
	s.people = make(map[string]*Person)
	s.templates = 0
	s.dim = s.wantDim

	if !errors.Is(loadErr, ErrStoreCorrupt) {
		s.log.Error().Err(loadErr).Str("path", s.path).Msg("store unreadable, starting empty")
		return
	}

	sidecar := s.path + ".corrupt"
	if err := os.Rename(s.path, sidecar); err != nil {
		s.log.Error().Err(loadErr).Str("path", s.path).
			Msg("store corrupt and could not be moved aside, starting empty")
		return
	}
	s.log.Warn().Err(loadErr).Str("path", s.path).Str("sidecar", sidecar).
		Msg("store corrupt, moved aside, starting empty")
}

// Lookup finds the enrolled label nearest to query. It returns a match only
// when the exact cosine distance is within the acceptance threshold. For a
// fixed store and query the result is deterministic: ties within epsilon of
// the minimum distance prefer the label with more templates, then the
// lexicographically smaller label.
func (s *Store) Lookup(query Vector) (Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) == 0 || s.templates == 0 {
		return Match{}, false
	}

	var cands map[string]float64
	if s.ix != nil && s.templates > s.cutover {
		cands = s.scanShortlist(query)
	} else {
		cands = s.scanAll(query)
	}

	key, dist, ok := selectCandidate(s.people, cands)
	if !ok || dist > s.threshold {
		return Match{}, false
	}
	return Match{Label: s.people[key].Label, Distance: dist}, true
}

// scanAll computes the exact best distance per label over every template.
func (s *Store) scanAll(query Vector) map[string]float64 {
	cands := make(map[string]float64, len(s.people))
	for key, p := range s.people {
		for _, tpl := range p.Templates {
			d := CosineDistance(query, tpl)
			if best, ok := cands[key]; !ok || d < best {
				cands[key] = d
			}
		}
	}
	return cands
}

// scanShortlist narrows via the HNSW graph, then re-scores candidates with
// the exact metric so the decision rule matches the exact-scan path.
func (s *Store) scanShortlist(query Vector) map[string]float64 {
	k := hnswSearchMultiplier * hnswMaxNeighbors
	if k > s.ix.len() {
		k = s.ix.len()
	}

	cands := make(map[string]float64)
	for _, ref := range s.ix.shortlist(query, k) {
		if _, ok := s.people[ref.key]; !ok {
			continue
		}
		d := CosineDistance(query, ref.vec)
		if best, ok := cands[ref.key]; !ok || d < best {
			cands[ref.key] = d
		}
	}
	return cands
}

// selectCandidate applies the tie-break rule over per-label best distances.
func selectCandidate(people map[string]*Person, cands map[string]float64) (string, float64, bool) {
	minDist := math.Inf(1)
	for _, d := range cands {
		if d < minDist {
			minDist = d
		}
	}
	if math.IsInf(minDist, 1) {
		return "", 0, false
	}

	best := ""
	for key, d := range cands {
		if d-minDist > distanceEpsilon {
			continue
		}
		if best == "" {
			best = key
			continue
		}
		a, b := people[key], people[best]
		switch {
		case len(a.Templates) > len(b.Templates):
			best = key
		case len(a.Templates) == len(b.Templates) && key < best:
			best = key
		}
	}
	return best, cands[best], true
}

// Enroll appends templates for label, creating the person on first use, and
// persists the store atomically before returning. On a persistence failure
// the in-memory state is rolled back so it always matches the durable file.
func (s *Store) Enroll(label string, vectors ...Vector) (int, error) {
	key := NormalizeLabel(label)
	if key == "" {
		return 0, fmt.Errorf("identity: label %q is empty after normalization", label)
	}
	if len(vectors) == 0 {
		return 0, fmt.Errorf("identity: no templates to enroll for %q", label)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vectors {
		if len(v) == 0 || (s.dim > 0 && len(v) != s.dim) {
			return 0, fmt.Errorf("identity: template dimension %d, store expects %d", len(v), s.dim)
		}
	}
	if s.dim == 0 {
		s.dim = len(vectors[0])
	}

	now := time.Now().UTC()
	p, existed := s.people[key]
	if !existed {
		p = &Person{Label: strings.TrimSpace(label), EnrolledAt: now}
		s.people[key] = p
	}

	prior := len(p.Templates)
	added := make([]Vector, 0, len(vectors))
	for _, v := range vectors {
		added = append(added, cloneVector(v))
	}
	p.Templates = append(p.Templates, added...)
	p.UpdatedAt = now
	s.templates += len(added)

	if err := s.saveLocked(); err != nil {
		p.Templates = p.Templates[:prior]
		s.templates -= len(added)
		if !existed {
			delete(s.people, key)
		}
		return 0, err
	}

	s.refreshIndexLocked(key, added)
	s.log.Info().Str("label", p.Label).Int("added", len(added)).
		Int("templates", len(p.Templates)).Msg("enrolled templates")
	return len(added), nil
}

// Remove deletes a person by label (normalized match) and persists. The
// second return reports whether the label existed.
func (s *Store) Remove(label string) (bool, error) {
	key := NormalizeLabel(label)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.people[key]
	if !ok {
		return false, nil
	}
	delete(s.people, key)
	s.templates -= len(p.Templates)

	if err := s.saveLocked(); err != nil {
		s.people[key] = p
		s.templates += len(p.Templates)
		return false, err
	}

	if s.templates > s.cutover {
		s.ix = buildIndex(s.people)
	} else {
		s.ix = nil
	}
	s.log.Info().Str("label", p.Label).Int("templates", len(p.Templates)).Msg("removed person")
	return true, nil
}

// People lists enrolled persons sorted by normalized label.
func (s *Store) People() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.people))
	for _, p := range s.people {
		out = append(out, Summary{
			Label:      p.Label,
			Templates:  len(p.Templates),
			EnrolledAt: p.EnrolledAt,
			UpdatedAt:  p.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return NormalizeLabel(out[i].Label) < NormalizeLabel(out[j].Label)
	})
	return out
}

// Count returns the number of enrolled persons.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.people)
}

// Templates returns the total number of enrolled templates.
func (s *Store) Templates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templates
}

func (s *Store) Threshold() float64 { return s.threshold }

func (s *Store) Path() string { return s.path }

// Dim returns the embedding dimension, or 0 before the first enrollment.
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// saveLocked writes the whole store through a temp file renamed over the
// target, so a reader never observes a partial file. Callers hold the lock.
func (s *Store) saveLocked() error {
	file := storeFile{
		Version: storeVersion,
		Metric:  storeMetric,
		Dim:     s.dim,
		People:  make([]personRecord, 0, len(s.people)),
	}

	keys := make([]string, 0, len(s.people))
	for key := range s.people {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		p := s.people[key]
		rec := personRecord{
			Label:      p.Label,
			Templates:  make([][]float32, 0, len(p.Templates)),
			EnrolledAt: p.EnrolledAt,
			UpdatedAt:  p.UpdatedAt,
		}
		for _, tpl := range p.Templates {
			rec.Templates = append(rec.Templates, tpl)
		}
		file.People = append(file.People, rec)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: encoding store: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("identity: writing store: %w", err)
	}
	return nil
}

func (s *Store) refreshIndexLocked(key string, added []Vector) {
	if s.templates <= s.cutover {
		s.ix = nil
		return
	}
	if s.ix == nil {
		s.ix = buildIndex(s.people)
		return
	}
	for _, v := range added {
		s.ix.add(key, v)
	}
}

func cloneVector(v Vector) Vector {
	c := make(Vector, len(v))
	copy(c, v)
	return c
}
