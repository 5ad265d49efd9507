package chat

// CompletionRequest is the body POSTed to an OpenAI-compatible
// /chat/completions endpoint.
type CompletionRequest struct {
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
	Messages []Message `json:"messages"`
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse is the non-streaming response; only the first choice's
// message is read.
type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

func userRequest(model, prompt string, stream bool) CompletionRequest {
	return CompletionRequest{
		Model:    model,
		Stream:   stream,
		Messages: []Message{{Role: "user", Content: prompt}},
	}
}
