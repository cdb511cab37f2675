package openai

// parameters that SendPrompt takes. Fields like Background and Store are
// decided inside SendPrompt and are not exposed here.
type InputParameters struct {
	Model              string            `json:"model"`
	Instructions       string            `json:"instructions"`
	MaxOutputTokens    *int              `json:"max_output_tokens,omitempty"`
	Input              []InputItem       `json:"input"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Reasoning          *Reasoning        `json:"reasoning"`
	Temperature        *float64          `json:"temperature,omitempty"` // GPT-5 family only accepts 1.0
	Text               *TextOptions      `json:"text,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ----- Request types we send -----

// InputItem mirrors [{"role":"user","content":"..."}]; Content is a string or a
// slice of typed content parts (input_text, input_image).
type InputItem struct {
	Role    InputRole `json:"role"`
	Content any       `json:"content"`
}

type requestPayload struct {
	Model              string            `json:"model"`
	Instructions       string            `json:"instructions"`
	MaxOutputTokens    *int              `json:"max_output_tokens,omitempty"`
	Input              []InputItem       `json:"input"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Reasoning          *Reasoning        `json:"reasoning"`
	Store              bool              `json:"store,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	Background         bool              `json:"background,omitempty"`
	Text               *TextOptions      `json:"text,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ----- Response types we parse -----
// Only the fields RunMetadata and output extraction need.
type responseObject struct {
	ID          string       `json:"id"`
	Object      string       `json:"object"`
	CreatedAt   int64        `json:"created_at,omitempty"`
	Model       string       `json:"model"`
	Status      string       `json:"status"` // "completed", "in_progress", "failed", etc.
	Output      []outputItem `json:"output"`
	Usage       *usageBlock  `json:"usage,omitempty"`
	Error       any          `json:"error,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Reasoning   *Reasoning   `json:"reasoning,omitempty"`
}

type outputItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"` // typically "message"
	Role    string        `json:"role,omitempty"`
	Content []contentItem `json:"content,omitempty"`
}

type contentItem struct {
	Type string `json:"type"`           // e.g., "output_text"
	Text string `json:"text,omitempty"` // set when type == "output_text"
}

type usageBlock struct {
	InputTokens         int                  `json:"input_tokens"`
	InputTokensDetails  *inputTokensDetails  `json:"input_tokens_details"`
	OutputTokens        int                  `json:"output_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	OutputTokensDetails *outputTokensDetails `json:"output_tokens_details,omitempty"`
}

type inputTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type outputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

type Reasoning struct {
	Effort  *Effort  `json:"effort,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

// RunMetadata captures how an analysis was generated. It is stored alongside
// the analysis result for auditing and cost tracking.
type RunMetadata struct {
	ResponseID      string `json:"response_id"`
	Model           string `json:"model"`          // e.g., "gpt-5-mini"
	ModelSnapshot   string `json:"model_snapshot"` // e.g. "2025-08-07" if present
	Status          string `json:"status"`
	ReasoningEffort Effort `json:"reasoning_effort"`
	HTTPStatus      int    `json:"http_status,omitempty"` // last HTTP status seen, set on failures too

	Temperature float64 `json:"temperature"`

	TokensIn        int `json:"tokens_in"`
	TokensCached    int `json:"tokens_cached"`
	TokensOut       int `json:"tokens_out"`
	TokensReasoning int `json:"tokens_reasoning"`
	TokensTotal     int `json:"tokens_total"`

	StartedAt  int64 `json:"started_at"`
	FinishedAt int64 `json:"finished_at"`
	Elapsed    int64 `json:"elapsed"` // milliseconds
}
