package models

// ChatRequest is the body accepted by the chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the advice text back to the dashboard.
type ChatResponse struct {
	Response string `json:"response"`
}
