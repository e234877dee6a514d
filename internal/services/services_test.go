package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"studydeck/internal/db"
	"studydeck/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// seedQuizDeck creates a deck with one card of each scoring family:
// a multiple-choice card (correct key "2"), a true/false card and a
// free-answer card.
func seedQuizDeck(t *testing.T, decks *DeckService) (*models.Deck, []models.Card) {
	t.Helper()
	ctx := context.Background()

	deck, err := decks.Create(ctx, "Geography", "", "")
	if err != nil {
		t.Fatalf("create deck: %v", err)
	}

	cards := []models.Card{
		{
			Type:       models.CardMultipleChoice,
			Question:   "What is the capital of France?",
			Answer:     "Paris",
			Choices:    []string{"London", "Berlin", "Paris", "Madrid"},
			CorrectKey: sql.NullString{String: "2", Valid: true},
		},
		{
			Type:     models.CardTrueFalse,
			Question: "The Seine flows through Paris.",
			Answer:   "True",
		},
		{
			Type:     models.CardFreeAnswer,
			Question: "Which city hosts the Louvre?",
			Answer:   "Paris",
		},
	}
	if err := decks.InsertCards(ctx, deck.ID, cards); err != nil {
		t.Fatalf("insert cards: %v", err)
	}

	inserted, err := decks.ListCards(ctx, deck.ID)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(inserted) != 3 {
		t.Fatalf("expected 3 seeded cards, got %d", len(inserted))
	}
	return deck, inserted
}
