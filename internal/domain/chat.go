package domain

// ChatMessage is the provider-agnostic chat message shape sent to the LLM
// integrations during prompt assembly.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
