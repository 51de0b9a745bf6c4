package config

// ProviderConfig configures the default LLM provider used by the chat
// tool-loop, automation engine, and mission runner when a domain has no
// override.
type ProviderConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, genai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// GeminiProviderConfig holds Gemini-specific configuration: thinking mode and
// Google Search grounding.
//
// Thinking Mode:
//   - Use ThinkingLevel ("minimal", "low", "medium", "high")
type GeminiProviderConfig struct {
	EnableThinking     bool   `yaml:"enable_thinking" json:"enable_thinking,omitempty"`
	ThinkingLevel      string `yaml:"thinking_level" json:"thinking_level,omitempty"`
	EnableGoogleSearch bool   `yaml:"enable_google_search" json:"enable_google_search,omitempty"`
}

// DefaultGeminiProviderConfig returns sensible defaults for dynamic reasoning.
func DefaultGeminiProviderConfig() GeminiProviderConfig {
	return GeminiProviderConfig{
		EnableThinking: true,
		ThinkingLevel:  "high",
	}
}
