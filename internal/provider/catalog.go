package provider

// Family groups the models offered when adding a provider.
type Family struct {
	Name string
	Kind Kind
	// KeyEnv is the vendor variable used when no key is stored.
	KeyEnv     string
	NeedsKey   bool
	BaseURL    string
	Presets    []Preset
	CustomOnly bool
}

// Preset is a suggested model of a family.
type Preset struct {
	Label string
	Model string
}

// Families lists the provider types offered by the add-provider flow.
func Families() []Family {
	return []Family{
		{
			Name: "OpenAI", Kind: KindOpenAI, KeyEnv: "OPENAI_API_KEY", NeedsKey: true,
			Presets: []Preset{
				{Label: "GPT-4o", Model: "gpt-4o"},
				{Label: "GPT-4o mini", Model: "gpt-4o-mini"},
				{Label: "GPT-4 Turbo", Model: "gpt-4-turbo"},
			},
		},
		{
			Name: "Gemini", Kind: KindGemini, KeyEnv: "GEMINI_API_KEY", NeedsKey: true,
			Presets: []Preset{
				{Label: "Gemini 2.0 Flash", Model: "gemini/gemini-2.0-flash"},
				{Label: "Gemini 1.5 Pro", Model: "gemini/gemini-1.5-pro"},
			},
		},
		{
			Name: "Claude", Kind: KindAnthropic, KeyEnv: "ANTHROPIC_API_KEY", NeedsKey: true,
			Presets: []Preset{
				{Label: "Claude 3.5 Sonnet", Model: "claude-3-5-sonnet-20241022"},
				{Label: "Claude 3.5 Haiku", Model: "claude-3-5-haiku-20241022"},
				{Label: "Claude 3 Opus", Model: "claude-3-opus-20240229"},
			},
		},
		{
			Name: "Ollama", Kind: KindOllama, BaseURL: defaultOllamaBaseURL,
			Presets: []Preset{
				{Label: "Llama 3.2", Model: "ollama/llama3.2"},
				{Label: "Mistral", Model: "ollama/mistral"},
				{Label: "Qwen 2.5", Model: "ollama/qwen2.5"},
			},
		},
		{
			Name: "Custom (OpenAI-compatible)", Kind: KindCompatible, CustomOnly: true,
		},
	}
}
