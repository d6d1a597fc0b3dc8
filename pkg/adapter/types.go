package adapter

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cost captures normalized cost estimates.
type Cost struct {
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	IsEstimate   bool    `json:"is_estimate"`
	PricingModel string  `json:"pricing_model,omitempty"`
}

// CallReport captures adapter call metadata.
type CallReport struct {
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	Cost    Cost   `json:"cost"`
	Error   string `json:"error,omitempty"`
}

// Response wraps an adapter output and optional usage data.
type Response struct {
	Content string
	Adapter string
	Model   string
	Usage   *Usage
}

func newResponse(adapterName, model, content string, usage *Usage) *Response {
	if usage != nil && usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return &Response{
		Content: content,
		Adapter: adapterName,
		Model:   model,
		Usage:   usage,
	}
}
