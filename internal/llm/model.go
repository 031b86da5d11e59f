package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbakker/convel-go/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model wraps a langchaingo LLM for text generation. It is optional: the
// linking pipeline only consults it when an LLM provider is configured.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

// Generate generates text based on a prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("generate: %w", err))
	}
	return response, nil
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("generate with system: %w", err))
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// RerankCandidate is one disambiguation candidate presented to the model.
type RerankCandidate struct {
	Entity      string
	Description string
}

// PickEntity asks the model which candidate entity a mention refers to, given
// the utterance it appeared in. Returns the chosen entity name, or "" when the
// model's answer matches no candidate.
func (m *Model) PickEntity(ctx context.Context, utterance, mention string, candidates []RerankCandidate) (string, error) {
	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Entity, c.Description)
	}

	systemPrompt := `You are an entity disambiguation assistant. Given an utterance, a mention
from it, and a list of candidate entities, answer with the name of the single
candidate the mention refers to. Answer with the entity name only, exactly as
listed. If none fit, answer NONE.`

	userPrompt := fmt.Sprintf(`Utterance: %s

Mention: %s

Candidates:
%s
Answer:`, utterance, mention, sb.String())

	answer, err := m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	return matchCandidate(answer, candidates), nil
}

// matchCandidate maps a model answer back onto the candidate list. The answer
// is matched case-insensitively after trimming; anything else yields "".
func matchCandidate(answer string, candidates []RerankCandidate) string {
	answer = strings.TrimSpace(answer)
	// Models sometimes echo a full sentence; keep the first line only
	if i := strings.IndexByte(answer, '\n'); i >= 0 {
		answer = strings.TrimSpace(answer[:i])
	}
	for _, c := range candidates {
		if strings.EqualFold(answer, c.Entity) {
			return c.Entity
		}
	}
	return ""
}
