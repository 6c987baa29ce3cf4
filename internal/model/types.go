package model

import "time"

// InputMethod records how a capture was submitted.
type InputMethod string

const (
	InputPaste      InputMethod = "paste"
	InputScreenshot InputMethod = "screenshot"
	InputAPI        InputMethod = "api"
)

// Valid reports whether m is one of the known input methods.
func (m InputMethod) Valid() bool {
	switch m {
	case InputPaste, InputScreenshot, InputAPI:
		return true
	}
	return false
}

// CaptureStatus is the lifecycle state of a capture.
type CaptureStatus string

const (
	StatusQueued         CaptureStatus = "queued"
	StatusProcessing     CaptureStatus = "processing"
	StatusCompleted      CaptureStatus = "completed"
	StatusFailed         CaptureStatus = "failed"
	StatusQueuedForRetry CaptureStatus = "queued_for_retry"
)

// Terminal reports whether no further processing may happen for the status.
// queued_for_retry is not terminal: the sweep re-enters it.
func (s CaptureStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Category is the closed set of memory categories.
type Category string

const (
	CategoryEmotional     Category = "emotional"
	CategoryWork          Category = "work"
	CategoryHobbies       Category = "hobbies"
	CategoryRelationships Category = "relationships"
	CategoryPreferences   Category = "preferences"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryEmotional,
	CategoryWork,
	CategoryHobbies,
	CategoryRelationships,
	CategoryPreferences,
}

// Valid reports whether c is one of the five fixed categories.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

const (
	MinImportance = 1
	MaxImportance = 5
)

// ImageRef points at an already-uploaded screenshot.
type ImageRef struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// ResultSummary is recorded on a capture when processing completes.
type ResultSummary struct {
	Saved             int `json:"saved"`
	SkippedDuplicates int `json:"skippedDuplicates"`
	Merged            int `json:"merged"`
}

// Capture is one submitted unit of raw input.
type Capture struct {
	CaptureID    string         `json:"captureId"`
	ProfileID    string         `json:"profileId"`
	InputMethod  InputMethod    `json:"inputMethod"`
	Status       CaptureStatus  `json:"status"`
	RawText      *string        `json:"rawText,omitempty"`
	Images       []ImageRef     `json:"images,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Result       *ResultSummary `json:"result,omitempty"`
	AttemptCount int            `json:"attemptCount"`
	CreationTime time.Time      `json:"creationTime"`
	UpdateTime   time.Time      `json:"updateTime"`
}

// Memory is one persisted fact/emotional unit extracted from a capture.
type Memory struct {
	MemoryID              string    `json:"memoryId"`
	ProfileID             string    `json:"profileId"`
	CaptureID             *string   `json:"captureId,omitempty"`
	Category              Category  `json:"category"`
	FactualContent        string    `json:"factualContent"`
	EmotionalSignificance *string   `json:"emotionalSignificance,omitempty"`
	VerbatimText          string    `json:"verbatimText"`
	Summary               *string   `json:"summary,omitempty"`
	PreferVerbatim        bool      `json:"preferVerbatim"`
	Importance            int       `json:"importance"`
	VerbatimTokens        int       `json:"verbatimTokens"`
	SummaryTokens         int       `json:"summaryTokens"`
	ContentHash           *string   `json:"contentHash,omitempty"`
	SpeakerConfidence     *float64  `json:"speakerConfidence,omitempty"`
	CreationTime          time.Time `json:"creationTime"`
	UpdateTime            time.Time `json:"updateTime"`
}

// CandidateMemory is a validated, not yet persisted extraction result.
type CandidateMemory struct {
	FactualContent        string
	EmotionalSignificance *string
	Category              Category
	Importance            int
	VerbatimText          string
	SpeakerConfidence     *float64
}

// CaptureRef identifies a capture together with its owning profile.
// Jobs carry refs so a worker can rebuild the tenant scope.
type CaptureRef struct {
	CaptureID string `json:"captureId"`
	ProfileID string `json:"profileId"`
}

// CaptureStatusView is the read-only projection served to polling clients.
type CaptureStatusView struct {
	CaptureID    string         `json:"captureId"`
	Status       CaptureStatus  `json:"status"`
	MemoryCount  *int           `json:"memoryCount,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Result       *ResultSummary `json:"result,omitempty"`
	CreationTime time.Time      `json:"createdAt"`
}

// Transition describes a status change applied by the pipeline.
type Transition struct {
	Status       CaptureStatus
	ErrorMessage *string
	Result       *ResultSummary
	// CountAttempt increments attempt_count (set when entering processing).
	CountAttempt bool
}

// ListMemoriesRequest captures filters used when listing memories.
type ListMemoriesRequest struct {
	Category *Category
	Limit    int
}
