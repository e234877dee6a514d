package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"studydeck/internal/models"
)

// ErrNoDueCards indicates that a deck has no cards ready to review.
var ErrNoDueCards = errors.New("no due cards")

// ReviewService schedules flashcard reviews with FSRS, separate from
// the linear quiz sessions: ratings reschedule a card's next due date
// and feed the deck's studied_items counter.
type ReviewService struct {
	db     *sql.DB
	decks  *DeckService
	params fsrs.Parameters
}

func NewReviewService(db *sql.DB, decks *DeckService) *ReviewService {
	return &ReviewService{db: db, decks: decks, params: fsrs.DefaultParam()}
}

// ParseRating maps the wire rating to an FSRS rating.
func ParseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	default:
		return 0, fmt.Errorf("unknown rating %q", raw)
	}
}

// NextDue returns the deck's next card to review: the earliest due
// card, falling back to the oldest card never reviewed. Cards already
// reviewed and due in the future stay out of the queue until they come
// due, so ErrNoDueCards means exactly that.
func (s *ReviewService) NextDue(ctx context.Context, deckID string) (*models.Card, error) {
	if _, err := s.decks.Get(ctx, deckID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, cardSelect+`
		WHERE deck_id = ? AND due IS NOT NULL AND due <= ?
		ORDER BY due ASC
		LIMIT 1;
	`, deckID, now)
	card, err := scanCard(row)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, cardSelect+`
		WHERE deck_id = ? AND last_review IS NULL
		ORDER BY due IS NULL DESC, created_at ASC
		LIMIT 1;
	`, deckID)
	card, err = scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, err
	}
	return card, nil
}

// ReviewCard applies the rating to the card's FSRS state and bumps the
// owning deck's studied_items, in one transaction.
func (s *ReviewService) ReviewCard(ctx context.Context, cardID string, rating fsrs.Rating) (*models.Card, error) {
	card, err := s.decks.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		return nil, fmt.Errorf("rating %d not supported", rating)
	}
	card.ApplyFSRSCard(info.Card)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET due = ?, stability = ?, review_difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.ReviewDifficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.ID,
	); err != nil {
		return nil, fmt.Errorf("update card %s: %w", card.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE decks SET studied_items = studied_items + 1, updated_at = ? WHERE id = ?;
	`, now, card.DeckID); err != nil {
		return nil, fmt.Errorf("bump studied items: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit review: %w", err)
	}
	return card, nil
}
