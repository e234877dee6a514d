package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studydeck/internal/models"
)

const (
	defaultFlashcardCount = 15
	defaultQuestionCount  = 8
)

// generator is the slice of the AI service the pipeline depends on.
type generator interface {
	GenerateFlashcards(ctx context.Context, corpus string, count int) ([]models.GeneratedFlashcard, error)
	GenerateQuiz(ctx context.Context, corpus string, count int) ([]models.GeneratedQuestion, error)
	Summarize(ctx context.Context, content string) (string, error)
}

// IngestedFile is one upload whose text extraction already completed.
type IngestedFile struct {
	Filename string
	Mimetype string
	Filepath string
	Text     string
}

// PipelineService turns uploaded study material into persisted cards:
// corpus assembly, concurrent flashcard and quiz generation, then a
// single all-or-nothing card batch insert.
type PipelineService struct {
	decks  *DeckService
	ai     generator
	logger *zap.Logger
}

func NewPipelineService(decks *DeckService, ai generator, logger *zap.Logger) *PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineService{decks: decks, ai: ai, logger: logger}
}

// GenerateForDeck builds the deck's corpus and asks the model for
// flashcards and quiz questions concurrently. Both calls must succeed;
// the resulting cards are persisted in one transaction. Returns the
// number of cards added.
func (s *PipelineService) GenerateForDeck(ctx context.Context, deckID string) (int, error) {
	if _, err := s.decks.Get(ctx, deckID); err != nil {
		return 0, err
	}
	corpus, err := s.decks.Corpus(ctx, deckID)
	if err != nil {
		return 0, err
	}
	return s.generate(ctx, deckID, corpus)
}

func (s *PipelineService) generate(ctx context.Context, deckID, corpus string) (int, error) {
	var (
		flashcards []models.GeneratedFlashcard
		questions  []models.GeneratedQuestion
	)

	// The two generation calls are independent; issue them together
	// and fail the whole step if either rejects.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		flashcards, err = s.ai.GenerateFlashcards(gctx, corpus, defaultFlashcardCount)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = s.ai.GenerateQuiz(gctx, corpus, defaultQuestionCount)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	cards := make([]models.Card, 0, len(flashcards)+len(questions))
	for _, fc := range flashcards {
		cards = append(cards, flashcardToCard(fc))
	}
	for _, q := range questions {
		cards = append(cards, questionToCard(q))
	}

	if err := s.decks.InsertCards(ctx, deckID, cards); err != nil {
		return 0, err
	}

	s.logger.Info("generated cards for deck",
		zap.String("deck_id", deckID),
		zap.Int("flashcards", len(flashcards)),
		zap.Int("questions", len(questions)))
	return len(cards), nil
}

// ProcessUploadedFiles runs the whole ingestion pipeline over
// already-extracted files: create an auto-titled deck, store the
// uploads, then generate and persist cards. The returned deck carries
// its cards and uploads.
func (s *PipelineService) ProcessUploadedFiles(ctx context.Context, files []IngestedFile) (*models.Deck, error) {
	corpus := buildCorpus(files)
	if strings.TrimSpace(corpus) == "" {
		return nil, ErrEmptyCorpus
	}

	deck, err := s.decks.Create(ctx, autoTitle(files), "Generated from uploaded materials using AI", "")
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if _, err := s.decks.AddUpload(ctx, deck.ID, f.Filename, f.Mimetype, f.Filepath, f.Text); err != nil {
			return nil, err
		}
	}

	if _, err := s.generate(ctx, deck.ID, corpus); err != nil {
		return nil, err
	}

	return s.decks.GetFull(ctx, deck.ID)
}

// Summarize returns an AI summary of the deck's corpus.
func (s *PipelineService) Summarize(ctx context.Context, deckID string) (string, error) {
	if _, err := s.decks.Get(ctx, deckID); err != nil {
		return "", err
	}
	corpus, err := s.decks.Corpus(ctx, deckID)
	if err != nil {
		return "", err
	}
	return s.ai.Summarize(ctx, corpus)
}

func buildCorpus(files []IngestedFile) string {
	var parts []string
	for _, f := range files {
		if strings.TrimSpace(f.Text) != "" {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, corpusSeparator)
}

// autoTitle names a deck after its single source file, or the current
// date when several files feed it.
func autoTitle(files []IngestedFile) string {
	if len(files) == 1 {
		base := files[0].Filename
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if base != "" {
			return base + " Study Set"
		}
	}
	return "Study Set " + time.Now().UTC().Format("2006-01-02")
}

func flashcardToCard(fc models.GeneratedFlashcard) models.Card {
	return models.Card{
		Type:       models.CardFreeAnswer,
		Question:   strings.TrimSpace(fc.Front),
		Answer:     strings.TrimSpace(fc.Back),
		Difficulty: sql.NullString{String: fc.Difficulty, Valid: fc.Difficulty != ""},
		Source:     sql.NullString{String: fc.Source, Valid: fc.Source != ""},
	}
}

// questionToCard maps a generated question onto the closed card-type
// enum. Multiple-choice questions keep their four choices and store the
// answer key as the choice index; a correct answer that does not appear
// among the choices degrades the question to free-answer.
func questionToCard(q models.GeneratedQuestion) models.Card {
	card := models.Card{
		Question:    strings.TrimSpace(q.Text),
		Answer:      strings.TrimSpace(q.CorrectAnswer),
		Explanation: sql.NullString{String: q.Explanation, Valid: q.Explanation != ""},
		Difficulty:  sql.NullString{String: q.Difficulty, Valid: q.Difficulty != ""},
		Source:      sql.NullString{String: q.Source, Valid: q.Source != ""},
	}

	switch strings.ToLower(strings.TrimSpace(q.Type)) {
	case "multiple-choice", "mcq":
		if idx := choiceIndex(q.Options, q.CorrectAnswer); idx >= 0 {
			card.Type = models.CardMultipleChoice
			card.Choices = q.Options
			card.CorrectKey = sql.NullString{String: strconv.Itoa(idx), Valid: true}
			card.Answer = strings.TrimSpace(q.Options[idx])
			return card
		}
		card.Type = models.CardFreeAnswer
	case "true-false":
		card.Type = models.CardTrueFalse
	case "fill-blank":
		card.Type = models.CardFillBlank
	default:
		card.Type = models.CardFreeAnswer
	}
	return card
}

func choiceIndex(options []string, answer string) int {
	answer = strings.TrimSpace(strings.ToLower(answer))
	for i, opt := range options {
		if strings.TrimSpace(strings.ToLower(opt)) == answer {
			return i
		}
	}
	// The model sometimes answers with the key itself ("2") instead of
	// the option text.
	if idx, err := strconv.Atoi(answer); err == nil && idx >= 0 && idx < len(options) {
		return idx
	}
	return -1
}

var _ generator = (*AIService)(nil)
