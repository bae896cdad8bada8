// Package vocabulary holds the controlled list of valid open and close tags.
// Readers always see a complete snapshot; Reload swaps it in one step.
package vocabulary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/pkg/logger"
)

var ErrNoLoader = errors.New("vocabulary has no loader configured")

type Snapshot struct {
	OpenTags  []string  `json:"openTags" yaml:"openTags" bson:"openTags"`
	CloseTags []string  `json:"closeTags" yaml:"closeTags" bson:"closeTags"`
	Source    string    `json:"source" yaml:"-" bson:"source"`
	LoadedAt  time.Time `json:"loadedAt" yaml:"-" bson:"loadedAt"`

	index map[string]string
}

// NewSnapshot builds a snapshot from raw tag lists, dropping blanks and
// case-insensitive duplicates.
func NewSnapshot(openTags, closeTags []string) *Snapshot {
	s := &Snapshot{
		OpenTags:  dedupe(openTags),
		CloseTags: dedupe(closeTags),
		LoadedAt:  time.Now().UTC(),
	}
	s.buildIndex()
	return s
}

func (s *Snapshot) buildIndex() {
	s.index = make(map[string]string, len(s.OpenTags)+len(s.CloseTags))
	for _, tag := range s.All() {
		s.index[normalize(tag)] = tag
	}
}

// All returns open tags followed by close tags not already listed.
func (s *Snapshot) All() []string {
	if s == nil {
		return nil
	}
	return dedupe(append(append([]string(nil), s.OpenTags...), s.CloseTags...))
}

// Canonical returns the vocabulary spelling of tag, matching case and
// whitespace insensitively.
func (s *Snapshot) Canonical(tag string) (string, bool) {
	if s == nil {
		return "", false
	}
	key := normalize(tag)
	if s.index == nil {
		for _, v := range s.All() {
			if normalize(v) == key {
				return v, true
			}
		}
		return "", false
	}
	v, ok := s.index[key]
	return v, ok
}

func (s *Snapshot) Contains(tag string) bool {
	_, ok := s.Canonical(tag)
	return ok
}

func (s *Snapshot) Len() int {
	return len(s.All())
}

type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

type LoaderFunc func(ctx context.Context) (*Snapshot, error)

func (f LoaderFunc) Load(ctx context.Context) (*Snapshot, error) { return f(ctx) }

// Holder owns the current snapshot. The zero value is not usable; use NewHolder.
type Holder struct {
	loader  Loader
	current atomic.Pointer[Snapshot]
}

func NewHolder(loader Loader) *Holder {
	h := &Holder{loader: loader}
	h.current.Store(NewSnapshot(nil, nil))
	return h
}

// NewStaticHolder returns a holder fixed to the given lists.
func NewStaticHolder(openTags, closeTags []string) *Holder {
	h := &Holder{}
	snap := NewSnapshot(openTags, closeTags)
	snap.Source = "static"
	h.current.Store(snap)
	return h
}

func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Set replaces the snapshot.
func (h *Holder) Set(s *Snapshot) {
	if s.index == nil {
		s.buildIndex()
	}
	h.current.Store(s)
	metrics.VocabularySize.WithLabelValues("open").Set(float64(len(s.OpenTags)))
	metrics.VocabularySize.WithLabelValues("close").Set(float64(len(s.CloseTags)))
}

// Reload fetches a fresh snapshot from the loader. On failure the previous
// snapshot stays in place.
func (h *Holder) Reload(ctx context.Context) error {
	if h.loader == nil {
		return ErrNoLoader
	}

	snap, err := h.loader.Load(ctx)
	if err != nil {
		logger.Error("Vocabulary reload failed", zap.Error(err))
		return fmt.Errorf("failed to load vocabulary: %w", err)
	}

	fresh := NewSnapshot(snap.OpenTags, snap.CloseTags)
	fresh.Source = snap.Source
	h.Set(fresh)

	logger.Info("Vocabulary reloaded",
		zap.String("source", fresh.Source),
		zap.Int("open_tags", len(fresh.OpenTags)),
		zap.Int("close_tags", len(fresh.CloseTags)),
	)
	return nil
}

func normalize(tag string) string {
	return strings.ToLower(strings.Join(strings.Fields(tag), " "))
}

func dedupe(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		key := normalize(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}
