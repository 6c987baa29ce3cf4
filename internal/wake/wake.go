// Package wake renders a profile's most important memories into a prompt
// preamble that fits a token budget.
package wake

import (
	"context"
	"fmt"
	"strings"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
	"github.com/Dannytownkins/Ember-sub000/internal/tokens"
)

const (
	DefaultBudget = 2000
	// scanLimit bounds how many memories a prompt build reads.
	scanLimit = 500
)

// Prompt is a rendered wake prompt.
type Prompt struct {
	Text     string `json:"text"`
	Tokens   int    `json:"tokens"`
	Included int    `json:"included"`
	Omitted  int    `json:"omitted"`
}

// Service reads memories for a profile.
type Service struct {
	store  store.Store
	tokens tokens.Counter
}

func NewService(st store.Store, counter tokens.Counter) *Service {
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	return &Service{store: st, tokens: counter}
}

// Memories lists the scope's memories, most important first.
func (s *Service) Memories(ctx context.Context, scope tenant.Scope, req model.ListMemoriesRequest) ([]*model.Memory, error) {
	if req.Category != nil && !req.Category.Valid() {
		return nil, fmt.Errorf("%w: category %q", model.ErrValidation, *req.Category)
	}
	var out []*model.Memory
	err := s.store.InScope(ctx, scope, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Memories().List(ctx, req)
		return err
	})
	return out, err
}

// Build renders the wake prompt for scope within budget tokens.
func (s *Service) Build(ctx context.Context, scope tenant.Scope, budget int) (*Prompt, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	mems, err := s.Memories(ctx, scope, model.ListMemoriesRequest{Limit: scanLimit})
	if err != nil {
		return nil, err
	}
	return Render(mems, budget, s.tokens), nil
}

// Text returns the form of m used in a prompt: the verbatim words when
// PreferVerbatim is set or no summary exists, the summary otherwise.
func Text(m *model.Memory) string {
	if m.PreferVerbatim || m.Summary == nil || strings.TrimSpace(*m.Summary) == "" {
		return m.VerbatimText
	}
	return *m.Summary
}

// Render greedily adds memories in the given order, grouped by category,
// skipping any line that would overflow the budget.
func Render(mems []*model.Memory, budget int, counter tokens.Counter) *Prompt {
	const header = "What you remember about this person:"
	used := counter.Count(header)

	lines := map[model.Category][]string{}
	p := &Prompt{}
	for _, m := range mems {
		line := fmt.Sprintf("- %s (%q)", m.FactualContent, Text(m))
		if m.EmotionalSignificance != nil {
			line += ". " + *m.EmotionalSignificance
		}
		cost := counter.Count(line)
		if used+cost > budget {
			p.Omitted++
			continue
		}
		used += cost
		lines[m.Category] = append(lines[m.Category], line)
		p.Included++
	}
	if p.Included == 0 {
		return p
	}

	var b strings.Builder
	b.WriteString(header)
	for _, c := range model.Categories {
		if len(lines[c]) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n[%s]\n%s", c, strings.Join(lines[c], "\n"))
	}
	p.Text = b.String()
	p.Tokens = used
	return p
}
