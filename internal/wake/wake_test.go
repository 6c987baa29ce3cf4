package wake

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/store/memstore"
	"github.com/Dannytownkins/Ember-sub000/internal/tenant"
)

// wordCounter counts whitespace-separated words.
type wordCounter struct{}

func (wordCounter) Count(s string) int { return len(strings.Fields(s)) }

func strPtr(s string) *string { return &s }

func TestText_PrefersVerbatim(t *testing.T) {
	m := &model.Memory{VerbatimText: "I love hiking", Summary: strPtr("Likes hikes"), PreferVerbatim: true}
	assert.Equal(t, "I love hiking", Text(m))
	m.PreferVerbatim = false
	assert.Equal(t, "Likes hikes", Text(m))
	m.Summary = nil
	assert.Equal(t, "I love hiking", Text(m))
}

func TestRender_BudgetAndGrouping(t *testing.T) {
	mems := []*model.Memory{
		{FactualContent: "Works at a bakery", Category: model.CategoryWork, VerbatimText: "bakery job", PreferVerbatim: true, Importance: 5},
		{FactualContent: "Loves hiking", Category: model.CategoryHobbies, VerbatimText: "I love hiking", PreferVerbatim: true, Importance: 4, EmotionalSignificance: strPtr("freedom")},
		{FactualContent: "Has a very long story about a childhood summer by the lake", Category: model.CategoryEmotional, VerbatimText: "that summer at the lake changed everything for me", PreferVerbatim: true, Importance: 3},
		{FactualContent: "Sister Ana", Category: model.CategoryRelationships, VerbatimText: "my sister Ana", PreferVerbatim: true, Importance: 2},
	}
	p := Render(mems, 30, wordCounter{})

	assert.Equal(t, 3, p.Included)
	assert.Equal(t, 1, p.Omitted)
	assert.LessOrEqual(t, p.Tokens, 30)
	assert.Contains(t, p.Text, "[work]\n- Works at a bakery")
	assert.Contains(t, p.Text, `"I love hiking"). freedom`)
	assert.Contains(t, p.Text, "[relationships]")
	assert.NotContains(t, p.Text, "lake")
	// Category order is fixed, independent of importance order.
	assert.Less(t, strings.Index(p.Text, "[work]"), strings.Index(p.Text, "[hobbies]"))
}

func TestRender_NothingFits(t *testing.T) {
	mems := []*model.Memory{{FactualContent: "x", Category: model.CategoryWork, VerbatimText: "y", PreferVerbatim: true}}
	p := Render(mems, 1, wordCounter{})
	assert.Empty(t, p.Text)
	assert.Equal(t, 0, p.Included)
	assert.Equal(t, 1, p.Omitted)
}

func TestService_BuildIsScoped(t *testing.T) {
	st := memstore.New()
	a := tenant.MustScope("1c9e6b5a-7d3f-4e2a-8b1c-0d9e8f7a6b5c")
	b := tenant.MustScope("2d0f7c6b-8e4a-4f3b-9c2d-1e0f9a8b7c6d")
	hash := "abcdabcdabcdabcd"
	require.NoError(t, st.InScope(context.Background(), a, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Memories().Insert(ctx, &model.Memory{
			Category: model.CategoryHobbies, FactualContent: "Loves hiking", VerbatimText: "I love hiking",
			PreferVerbatim: true, Importance: 3, ContentHash: &hash,
		})
		return err
	}))

	svc := NewService(st, wordCounter{})
	pa, err := svc.Build(context.Background(), a, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, pa.Included)
	assert.Contains(t, pa.Text, "Loves hiking")

	pb, err := svc.Build(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, pb.Included)

	bad := model.Category("sports")
	_, err = svc.Memories(context.Background(), a, model.ListMemoriesRequest{Category: &bad})
	assert.ErrorIs(t, err, model.ErrValidation)
}
