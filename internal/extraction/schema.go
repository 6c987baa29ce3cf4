package extraction

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

//go:embed response.schema.json
var responseSchemaJSON []byte

var (
	resolveOnce sync.Once
	resolved    *jsonschema.Resolved
	resolveErr  error
)

func responseSchema() (*jsonschema.Resolved, error) {
	resolveOnce.Do(func() {
		var s jsonschema.Schema
		if err := json.Unmarshal(responseSchemaJSON, &s); err != nil {
			resolveErr = fmt.Errorf("parse response schema: %w", err)
			return
		}
		resolved, resolveErr = s.Resolve(nil)
	})
	return resolved, resolveErr
}

// wireCandidate mirrors the response schema. Importance is decoded as a
// number because the schema's integer type also admits values like 3.0.
type wireCandidate struct {
	FactualContent        string   `json:"factualContent"`
	EmotionalSignificance *string  `json:"emotionalSignificance"`
	Category              string   `json:"category"`
	Importance            float64  `json:"importance"`
	VerbatimText          string   `json:"verbatimText"`
	SpeakerConfidence     *float64 `json:"speakerConfidence"`
}

type wireResponse struct {
	Memories []wireCandidate `json:"memories"`
}

// Decode validates a raw model response and converts it to candidates.
// Any deviation from the response schema yields a *SchemaError.
func Decode(raw string) ([]model.CandidateMemory, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, &SchemaError{Reason: "empty response"}
	}

	var instance any
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return nil, &SchemaError{Reason: "not JSON", Err: err}
	}
	rs, err := responseSchema()
	if err != nil {
		return nil, err
	}
	if err := rs.Validate(instance); err != nil {
		return nil, &SchemaError{Reason: "schema mismatch", Err: err}
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &SchemaError{Reason: "decode", Err: err}
	}
	out := make([]model.CandidateMemory, 0, len(resp.Memories))
	for i, w := range resp.Memories {
		c := model.CandidateMemory{
			FactualContent:        strings.TrimSpace(w.FactualContent),
			EmotionalSignificance: blankToNil(w.EmotionalSignificance),
			Category:              model.Category(w.Category),
			Importance:            int(w.Importance),
			VerbatimText:          strings.TrimSpace(w.VerbatimText),
			SpeakerConfidence:     w.SpeakerConfidence,
		}
		if c.FactualContent == "" || c.VerbatimText == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("memories[%d] has blank text", i)}
		}
		out = append(out, c)
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence some models emit
// even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
