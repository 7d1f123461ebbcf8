package models

// ProviderKind identifies which upstream API class serves a model.
type ProviderKind string

const (
	ProviderOpenAI   ProviderKind = "openai"
	ProviderGemini   ProviderKind = "gemini"
	ProviderDeepSeek ProviderKind = "deepseek"
)

// ModelDescriptor is static metadata about a selectable model. It is never persisted.
type ModelDescriptor struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Provider      ProviderKind `json:"provider"`
	SupportsFiles bool         `json:"supports_files"`
}

// DefaultModel is selected for new sessions.
const DefaultModel = "gpt-3.5-turbo"

var catalog = []ModelDescriptor{
	{
		ID:          "gpt-3.5-turbo",
		Name:        "GPT-3.5 Turbo",
		Description: "Fast, inexpensive general purpose chat model.",
		Provider:    ProviderOpenAI,
	},
	{
		ID:            "gpt-4",
		Name:          "GPT-4",
		Description:   "Most capable OpenAI model for complex reasoning.",
		Provider:      ProviderOpenAI,
		SupportsFiles: true,
	},
	{
		ID:            "gemini-pro",
		Name:          "Gemini Pro",
		Description:   "Google's multimodal model, answers in one piece.",
		Provider:      ProviderGemini,
		SupportsFiles: true,
	},
	{
		ID:          "deepseek-chat",
		Name:        "DeepSeek Chat",
		Description: "Open-weights chat model streamed over server-sent events.",
		Provider:    ProviderDeepSeek,
	},
}

// Catalog returns a copy of the enumerated model set.
func Catalog() []ModelDescriptor {
	return append([]ModelDescriptor(nil), catalog...)
}

// LookupModel returns the descriptor for id.
func LookupModel(id string) (ModelDescriptor, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}
