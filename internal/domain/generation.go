package domain

// Usage is the token accounting returned by the generation service per call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Generation is one generated text with the usage it cost.
type Generation struct {
	Text  string
	Usage Usage
}

// Post is a generated draft labelled with its target platform.
type Post struct {
	Platform Platform
	Text     string
}
