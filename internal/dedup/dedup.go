// Package dedup saves extracted candidates, collapsing repeats of the same
// fact within a profile onto one memory.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/contenthash"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tokens"
)

// Outcome is what Save did with one candidate.
type Outcome int

const (
	Inserted Outcome = iota
	Merged
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Merged:
		return "merged"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes a saved candidate.
type Result struct {
	Outcome  Outcome
	MemoryID string
	Hash     string
	// Late is set when the duplicate was only detected by the unique index.
	Late bool
}

// Engine applies the lookup/insert/merge/skip rule.
type Engine struct {
	tokens tokens.Counter
	log    zerolog.Logger
}

func New(counter tokens.Counter, log zerolog.Logger) *Engine {
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	return &Engine{tokens: counter, log: log}
}

// Save stores one candidate through mems, which must be bound to the
// owning profile. captureID links a newly inserted memory to its capture.
//
// Ties keep the existing memory untouched: a candidate only wins when its
// importance is strictly greater.
func (e *Engine) Save(ctx context.Context, mems store.Memories, captureID string, c model.CandidateMemory) (Result, error) {
	hash := contenthash.Hash(c.FactualContent, c.Category)

	existing, err := mems.FindByHash(ctx, hash)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return e.insert(ctx, mems, captureID, hash, c)
	case err != nil:
		return Result{}, fmt.Errorf("lookup %s: %w", hash, err)
	}

	if c.Importance <= existing.Importance {
		return Result{Outcome: Skipped, MemoryID: existing.MemoryID, Hash: hash}, nil
	}
	emotional := MergeEmotional(existing.EmotionalSignificance, c.EmotionalSignificance)
	if err := mems.Merge(ctx, existing.MemoryID, c.Importance, emotional); err != nil {
		return Result{}, fmt.Errorf("merge %s: %w", existing.MemoryID, err)
	}
	return Result{Outcome: Merged, MemoryID: existing.MemoryID, Hash: hash}, nil
}

func (e *Engine) insert(ctx context.Context, mems store.Memories, captureID, hash string, c model.CandidateMemory) (Result, error) {
	m := &model.Memory{
		Category:              c.Category,
		FactualContent:        c.FactualContent,
		EmotionalSignificance: c.EmotionalSignificance,
		VerbatimText:          c.VerbatimText,
		PreferVerbatim:        true,
		Importance:            c.Importance,
		VerbatimTokens:        e.tokens.Count(c.VerbatimText),
		ContentHash:           &hash,
		SpeakerConfidence:     c.SpeakerConfidence,
	}
	if captureID != "" {
		id := captureID
		m.CaptureID = &id
	}
	saved, err := mems.Insert(ctx, m)
	if errors.Is(err, model.ErrConflict) {
		e.log.Debug().Str("content_hash", hash).Msg("duplicate found late")
		return Result{Outcome: Skipped, Hash: hash, Late: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("insert %s: %w", hash, err)
	}
	return Result{Outcome: Inserted, MemoryID: saved.MemoryID, Hash: hash}, nil
}

// MergeEmotional joins two emotional significance notes with a newline,
// dropping the incoming one when it repeats a line already present.
func MergeEmotional(existing, incoming *string) *string {
	in := ""
	if incoming != nil {
		in = strings.TrimSpace(*incoming)
	}
	if existing == nil || strings.TrimSpace(*existing) == "" {
		if in == "" {
			return existing
		}
		return &in
	}
	if in == "" {
		return existing
	}
	for _, line := range strings.Split(*existing, "\n") {
		if strings.TrimSpace(line) == in {
			return existing
		}
	}
	out := *existing + "\n" + in
	return &out
}

// Tally accumulates outcomes into a capture result summary.
type Tally struct {
	Saved, SkippedDuplicates, Merged int
}

func (t *Tally) Add(o Outcome) {
	switch o {
	case Inserted:
		t.Saved++
	case Merged:
		t.Merged++
	case Skipped:
		t.SkippedDuplicates++
	}
}

func (t Tally) Summary() model.ResultSummary {
	return model.ResultSummary{Saved: t.Saved, SkippedDuplicates: t.SkippedDuplicates, Merged: t.Merged}
}
