package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"studydeck/internal/models"
)

// ErrSessionComplete is returned when an answer is submitted to a
// session that has already consumed every card.
var ErrSessionComplete = errors.New("quiz session is complete")

// QuizService drives a learner's linear pass through a deck:
// NotStarted -> InProgress -> Complete. Sessions only advance; there is
// no way back.
type QuizService struct {
	db    *sql.DB
	decks *DeckService
}

func NewQuizService(db *sql.DB, decks *DeckService) *QuizService {
	return &QuizService{db: db, decks: decks}
}

// Start opens a session over a snapshot of the deck's current card count.
func (s *QuizService) Start(ctx context.Context, deckID string) (*models.QuizSession, error) {
	if _, err := s.decks.Get(ctx, deckID); err != nil {
		return nil, err
	}
	cards, err := s.decks.ListCards(ctx, deckID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &models.QuizSession{
		ID:        uuid.NewString(),
		DeckID:    deckID,
		Total:     len(cards),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO quiz_sessions (id, deck_id, total, current_idx, num_correct, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, ?, ?);
	`, session.ID, deckID, session.Total, now, now); err != nil {
		return nil, fmt.Errorf("insert quiz session: %w", err)
	}
	return session, nil
}

// GetSession loads a session by id.
func (s *QuizService) GetSession(ctx context.Context, sessionID string) (*models.QuizSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, deck_id, total, current_idx, num_correct, created_at, updated_at
		FROM quiz_sessions WHERE id = ?;
	`, sessionID)

	var session models.QuizSession
	if err := row.Scan(
		&session.ID,
		&session.DeckID,
		&session.Total,
		&session.CurrentIdx,
		&session.NumCorrect,
		&session.CreatedAt,
		&session.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan quiz session: %w", err)
	}
	return &session, nil
}

// Next returns the card at the session's current index, or nil when the
// session is complete. It has no side effects: calling it twice without
// an intervening Answer yields the same card. Terminality follows the
// session's Total snapshot, not the deck's live card count, so a deck
// that grows after completion never reopens the session.
func (s *QuizService) Next(ctx context.Context, sessionID string) (*models.Card, *models.QuizSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.Complete() {
		return nil, session, nil
	}

	cards, err := s.decks.ListCards(ctx, session.DeckID)
	if err != nil {
		return nil, nil, err
	}
	if session.CurrentIdx >= len(cards) {
		return nil, session, nil
	}
	card := cards[session.CurrentIdx]
	return &card, session, nil
}

// AnswerResult is the outcome of scoring one card.
type AnswerResult struct {
	IsCorrect   bool
	Explanation string
	Progress    models.Progress
}

// Answer scores userAnswer against the submitted card, then atomically
// appends the answer record and advances the session. The cardId is
// looked up directly and deliberately not checked against the card at
// the current index.
func (s *QuizService) Answer(ctx context.Context, sessionID, cardID, userAnswer string) (*AnswerResult, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Complete() {
		return nil, ErrSessionComplete
	}

	card, err := s.decks.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	isCorrect := Score(card, userAnswer)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO quiz_answers (id, session_id, card_id, user_answer, is_correct, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, uuid.NewString(), session.ID, card.ID, userAnswer, isCorrect, nullStringPtr(card.Explanation), now); err != nil {
		return nil, fmt.Errorf("insert quiz answer: %w", err)
	}

	correctDelta := 0
	if isCorrect {
		correctDelta = 1
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE quiz_sessions
		SET current_idx = current_idx + 1, num_correct = num_correct + ?, updated_at = ?
		WHERE id = ?;
	`, correctDelta, now, session.ID); err != nil {
		return nil, fmt.Errorf("advance quiz session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit answer: %w", err)
	}

	result := &AnswerResult{
		IsCorrect: isCorrect,
		Progress: models.Progress{
			Current: session.CurrentIdx + 1,
			Total:   session.Total,
			Correct: session.NumCorrect + correctDelta,
		},
	}
	if card.Explanation.Valid {
		result.Explanation = card.Explanation.String
	}
	return result, nil
}

// ListAnswers returns the session's answer log in submission order.
func (s *QuizService) ListAnswers(ctx context.Context, sessionID string) ([]models.QuizAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, card_id, user_answer, is_correct, feedback, created_at
		FROM quiz_answers WHERE session_id = ?
		ORDER BY created_at ASC;
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list quiz answers: %w", err)
	}
	defer rows.Close()

	var answers []models.QuizAnswer
	for rows.Next() {
		var a models.QuizAnswer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.CardID, &a.UserAnswer, &a.IsCorrect, &a.Feedback, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz answers: %w", err)
	}
	return answers, nil
}

// Score applies the per-type scoring rule: multiple-choice answers must
// match the stored choice index exactly; everything else compares the
// trimmed, case-folded answer text.
func Score(card *models.Card, userAnswer string) bool {
	switch card.Type {
	case models.CardMultipleChoice:
		return card.CorrectKey.Valid && userAnswer == card.CorrectKey.String
	case models.CardTrueFalse, models.CardFillBlank, models.CardFreeAnswer:
		return foldAnswer(userAnswer) == foldAnswer(card.Answer)
	}
	return false
}

func foldAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
