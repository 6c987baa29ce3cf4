package contenthash

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Loves   Hiking\n\tin autumn ": "loves hiking in autumn",
		"ALREADY normal":                 "already normal",
		"":                               "",
		" \t\n ":                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("Loves hiking in autumn", model.CategoryHobbies)
	b := Hash("  loves   HIKING in autumn\n", model.CategoryHobbies)
	assert.Equal(t, a, b)
	assert.Len(t, a, Length)
}

func TestHash_CategoryIsPartOfKey(t *testing.T) {
	a := Hash("works at a bakery", model.CategoryWork)
	b := Hash("works at a bakery", model.CategoryHobbies)
	assert.NotEqual(t, a, b)
}

func TestHash_KnownValue(t *testing.T) {
	// sha256("abc|work") truncated.
	assert.Equal(t, "7332184c6f44ab97", Hash(" ABC ", model.CategoryWork))
}
