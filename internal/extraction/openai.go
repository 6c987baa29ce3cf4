package extraction

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/failure"
	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second
)

const systemPrompt = `You extract durable personal memories from a conversation the user captured.
Return a JSON object {"memories": [...]}. Each memory has:
factualContent (one short fact), emotionalSignificance (why it matters, or null),
category (one of emotional, work, hobbies, relationships, preferences),
importance (integer 1-5), verbatimText (the exact words it came from),
speakerConfidence (0-1, how sure you are the user said it, or null).
Only include facts about the user. Return {"memories": []} when there are none.`

// OpenAI extracts memories with the chat completions API. Text captures use
// a text call; screenshot captures use one vision call with every image.
type OpenAI struct {
	client      openai.Client
	model       string
	visionModel string
	bounds      Bounds
	log         zerolog.Logger

	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures the OpenAI extractor.
type Option func(*OpenAI)

// WithModel sets the model used for text captures.
func WithModel(m string) Option { return func(o *OpenAI) { o.model = m } }

// WithVisionModel sets the model used for screenshot captures.
func WithVisionModel(m string) Option { return func(o *OpenAI) { o.visionModel = m } }

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option { return func(o *OpenAI) { o.baseURL = u } }

// WithTimeout bounds a single request.
func WithTimeout(d time.Duration) Option { return func(o *OpenAI) { o.timeout = d } }

func WithHTTPClient(c *http.Client) Option { return func(o *OpenAI) { o.httpClient = c } }

func WithBounds(b Bounds) Option { return func(o *OpenAI) { o.bounds = b } }

func WithLogger(l zerolog.Logger) Option { return func(o *OpenAI) { o.log = l } }

// NewOpenAI builds the extractor. The SDK's own retries are disabled.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := &OpenAI{
		model:   DefaultModel,
		bounds:  DefaultBounds,
		timeout: DefaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.visionModel == "" {
		o.visionModel = o.model
	}

	reqOpts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(o.timeout),
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	o.client = openai.NewClient(reqOpts...)
	return o
}

func (o *OpenAI) Extract(ctx context.Context, p Payload) ([]model.CandidateMemory, error) {
	if err := o.bounds.Check(p); err != nil {
		return nil, failure.Permanent(err)
	}

	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0),
	}
	if len(p.Images) > 0 {
		params.Model = o.visionModel
		parts := []openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart("Extract memories from these conversation screenshots."),
		}
		for _, img := range p.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: img.URL}))
		}
		params.Messages = append(params.Messages, openai.UserMessage(parts))
	} else {
		params.Messages = append(params.Messages, openai.UserMessage(p.Text))
	}

	started := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	o.log.Debug().
		Str("model", params.Model).
		Int("images", len(p.Images)).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Dur("elapsed", time.Since(started)).
		Msg("extraction call completed")

	if len(resp.Choices) == 0 {
		return nil, failure.Permanent(&SchemaError{Reason: "no choices"})
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, failure.Permanent(&SchemaError{Reason: "model refused: " + msg.Refusal})
	}
	out, err := Decode(msg.Content)
	if err != nil {
		return nil, failure.Permanent(err)
	}
	return out, nil
}

// classify maps SDK and transport errors onto the retry taxonomy.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return failure.ClassifyHTTPError(apiErr.StatusCode, err)
	}
	if failure.IsTimeout(err) {
		return failure.NewNetworkError("extraction", err)
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return failure.NewNetworkError("extraction", err)
	}
	return failure.Transient(err)
}
