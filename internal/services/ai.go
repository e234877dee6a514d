package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"studydeck/internal/models"
)

var (
	// ErrAIUnavailable is returned when the model integration is not
	// configured or the transport call fails.
	ErrAIUnavailable = errors.New("ai integration is not available")
	// ErrGenerationParse is returned when the model response does not
	// contain valid JSON in the expected shape.
	ErrGenerationParse = errors.New("ai response is not parseable")
)

const (
	// Corpora longer than these budgets are truncated from the front
	// (the prefix is kept) before prompt insertion.
	maxGenerationChars  = 150_000
	maxChatContextChars = 80_000

	generationTimeout = 2 * time.Minute
	chatTimeout       = time.Minute
)

// completer is the slice of the OpenAI client the service uses,
// extracted so tests can stub the transport.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AIService wraps the external text-generation model behind four
// operations: flashcard generation, quiz generation, chat, summarize.
type AIService struct {
	client completer
	model  string
	logger *zap.Logger
}

func NewAIService(apiKey, model, endpoint string, logger *zap.Logger) *AIService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiKey == "" {
		return &AIService{model: model, logger: logger}
	}
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &AIService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// newAIServiceWithClient is used by tests to inject a stub transport.
func newAIServiceWithClient(client completer, model string, logger *zap.Logger) *AIService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIService{client: client, model: model, logger: logger}
}

func (s *AIService) disabled() bool {
	return s.client == nil || s.model == ""
}

// Available reports whether the model integration is configured.
func (s *AIService) Available() bool {
	return !s.disabled()
}

type flashcardEnvelope struct {
	Cards []models.GeneratedFlashcard `json:"cards"`
}

type quizEnvelope struct {
	Questions []models.GeneratedQuestion `json:"questions"`
}

// GenerateFlashcards asks the model for count flashcards over corpus and
// validates the strict-JSON response shape.
func (s *AIService) GenerateFlashcards(ctx context.Context, corpus string, count int) ([]models.GeneratedFlashcard, error) {
	if s.disabled() {
		return nil, ErrAIUnavailable
	}

	prompt := fmt.Sprintf(`Generate %d educational flashcards from the following content.
Each flashcard should have a clear, concise question on the front and a detailed, accurate answer on the back.
Return STRICT JSON: {"cards":[{"front":"","back":"","difficulty":"easy|medium|hard","source":""}]}.
Make sure the flashcards cover the most important concepts from the content.

CONTENT:
%s`, count, truncate(corpus, maxGenerationChars))

	content, err := s.complete(ctx, generationTimeout,
		"You are a study assistant who designs atomic, unambiguous flashcards for active recall.",
		prompt, 0.4)
	if err != nil {
		return nil, err
	}

	var envelope flashcardEnvelope
	if err := s.decodeStrict(content, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Cards) == 0 {
		return nil, fmt.Errorf("%w: no cards in response", ErrGenerationParse)
	}
	for i := range envelope.Cards {
		if envelope.Cards[i].Difficulty == "" {
			envelope.Cards[i].Difficulty = "medium"
		}
		if envelope.Cards[i].Source == "" {
			envelope.Cards[i].Source = "AI Generated"
		}
	}
	return envelope.Cards, nil
}

// GenerateQuiz asks the model for count quiz questions over corpus,
// mixing multiple-choice and true/false, and validates the response.
func (s *AIService) GenerateQuiz(ctx context.Context, corpus string, count int) ([]models.GeneratedQuestion, error) {
	if s.disabled() {
		return nil, ErrAIUnavailable
	}

	prompt := fmt.Sprintf(`Generate %d quiz questions from the following content.
Mix multiple choice and true/false questions. Focus on testing understanding of key concepts, not memorization.
Return STRICT JSON: {"questions":[{"text":"","type":"multiple-choice|true-false","options":["A","B","C","D"],"correctAnswer":"","explanation":"","difficulty":"easy|medium|hard","source":""}]}.
Options are required only for multiple-choice questions and must contain exactly 4 strings.

CONTENT:
%s`, count, truncate(corpus, maxGenerationChars))

	content, err := s.complete(ctx, generationTimeout,
		"You are a study assistant who writes quiz questions that test understanding.",
		prompt, 0.4)
	if err != nil {
		return nil, err
	}

	var envelope quizEnvelope
	if err := s.decodeStrict(content, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions in response", ErrGenerationParse)
	}
	for i := range envelope.Questions {
		if envelope.Questions[i].Difficulty == "" {
			envelope.Questions[i].Difficulty = "medium"
		}
		if envelope.Questions[i].Source == "" {
			envelope.Questions[i].Source = "AI Generated"
		}
	}
	return envelope.Questions, nil
}

// Chat sends a learner message, optionally prefixed with deck context,
// and returns the model text verbatim.
func (s *AIService) Chat(ctx context.Context, message, deckContext string) (string, error) {
	if s.disabled() {
		return "", ErrAIUnavailable
	}

	prompt := message
	if deckContext != "" {
		prompt = fmt.Sprintf(`You are explaining study concepts to a learner. Use the provided deck context. Keep answers crisp and helpful.

DECK CONTEXT:
%s

User: %s`, truncate(deckContext, maxChatContextChars), message)
	}

	return s.complete(ctx, chatTimeout,
		"You are a helpful study assistant.", prompt, 0.7)
}

// Summarize returns a concise summary of content as raw model text.
func (s *AIService) Summarize(ctx context.Context, content string) (string, error) {
	if s.disabled() {
		return "", ErrAIUnavailable
	}

	prompt := "Provide a concise summary of the following content, highlighting the key concepts and main points:\n\n" +
		truncate(content, maxGenerationChars)
	return s.complete(ctx, chatTimeout,
		"You are a study assistant who writes clear summaries.", prompt, 0.3)
}

func (s *AIService) complete(ctx context.Context, timeout time.Duration, system, user string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", ErrAIUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *AIService) decodeStrict(content string, out any) error {
	jsonStr := extractJSON(content)
	if jsonStr == "" {
		s.logger.Warn("no JSON block in model response", zap.String("raw", truncate(content, 2000)))
		return fmt.Errorf("%w: no JSON object found", ErrGenerationParse)
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		s.logger.Warn("unmarshal model response failed",
			zap.Error(err), zap.String("raw", truncate(content, 2000)))
		return fmt.Errorf("%w: %v", ErrGenerationParse, err)
	}
	return nil
}

// extractJSON removes markdown code block formatting if present and
// extracts the first top-level JSON object.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		start := 3
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx == -1 || endIdx <= startIdx {
		return ""
	}
	return strings.TrimSpace(content[startIdx : endIdx+1])
}

// truncate keeps the prefix of s up to limit characters.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
