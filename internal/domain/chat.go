package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the use case
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries everything needed for a single completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	TopP        float64
	// JSONResponse asks the provider to constrain output to a JSON object.
	JSONResponse bool
}
