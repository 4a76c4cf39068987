package api

// TextGenerateRequest is the body of POST /api/v1/text/generate.
type TextGenerateRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
	Stream        bool     `json:"stream,omitempty"`
}

// TextGenerateResponse is the body of a successful text generation.
type TextGenerateResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason"`
}

// GuidedDecoding selects a constraint kind and carries its payload. Exactly
// one payload field matching Type must be set.
type GuidedDecoding struct {
	Type    string         `json:"type"` // json, regex, choice, grammar
	Schema  map[string]any `json:"schema,omitempty"`
	Regex   string         `json:"regex,omitempty"`
	Choices []string       `json:"choices,omitempty"`
	Grammar string         `json:"grammar,omitempty"`
}

// StructuredGenerateRequest is the body of POST /api/v1/text/structured.
type StructuredGenerateRequest struct {
	Prompt         string          `json:"prompt"`
	GuidedDecoding *GuidedDecoding `json:"guided_decoding"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxRetries     *int            `json:"max_retries,omitempty"`
}

// StructuredGenerateResponse reports the outcome of the structured retry
// loop, including the attempts it took and the budget of each.
type StructuredGenerateResponse struct {
	Output         string `json:"output"`
	ParsedOutput   any    `json:"parsed_output,omitempty"`
	IsValid        bool   `json:"is_valid"`
	Model          string `json:"model"`
	TokensUsed     int    `json:"tokens_used"`
	FinishReason   string `json:"finish_reason"`
	AttemptsUsed   int    `json:"attempts_used"`
	AttemptBudgets []int  `json:"attempt_budgets"`
	ParseError     string `json:"parse_error,omitempty"`
}

// ImageGenerateRequest is the body of POST /api/v1/images/generate.
type ImageGenerateRequest struct {
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	Width             int      `json:"width,omitempty"`
	Height            int      `json:"height,omitempty"`
	NumInferenceSteps int      `json:"num_inference_steps,omitempty"`
	GuidanceScale     *float64 `json:"guidance_scale,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
}

// ImageGenerateResponse carries the finished artifact as a data URL plus the
// generation metadata the backend reported.
type ImageGenerateResponse struct {
	ImageURL string `json:"image_url"`
	Model    string `json:"model"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Seed     int64  `json:"seed"`
}

// ModelEntry is one entry in the combined model listing.
type ModelEntry struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"` // text or image
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelsResponse is the body of GET /api/v1/models.
type ModelsResponse struct {
	Models []ModelEntry `json:"models"`
}
