package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"studydeck/internal/models"
)

func checkSessionInvariant(t *testing.T, s *models.QuizSession) {
	t.Helper()
	if s.NumCorrect < 0 || s.NumCorrect > s.CurrentIdx || s.CurrentIdx > s.Total {
		t.Fatalf("session invariant violated: correct=%d idx=%d total=%d",
			s.NumCorrect, s.CurrentIdx, s.Total)
	}
}

func TestQuizStart(t *testing.T) {
	conn := newTestDB(t)
	decks := NewDeckService(conn)
	quiz := NewQuizService(conn, decks)
	ctx := context.Background()

	t.Run("UnknownDeck", func(t *testing.T) {
		_, err := quiz.Start(ctx, "no-such-deck")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SnapshotsCardCount", func(t *testing.T) {
		deck, _ := seedQuizDeck(t, decks)
		session, err := quiz.Start(ctx, deck.ID)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if session.Total != 3 || session.CurrentIdx != 0 || session.NumCorrect != 0 {
			t.Fatalf("unexpected fresh session: %+v", session)
		}
	})
}

func TestQuizNextIsIdempotent(t *testing.T) {
	conn := newTestDB(t)
	decks := NewDeckService(conn)
	quiz := NewQuizService(conn, decks)
	ctx := context.Background()

	deck, cards := seedQuizDeck(t, decks)
	session, err := quiz.Start(ctx, deck.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first, _, err := quiz.Next(ctx, session.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, _, err := quiz.Next(ctx, session.ID)
	if err != nil {
		t.Fatalf("next again: %v", err)
	}
	if first == nil || second == nil || first.ID != second.ID {
		t.Fatal("next advanced the session without an answer")
	}
	if first.ID != cards[0].ID {
		t.Errorf("next returned %s, want first card %s", first.ID, cards[0].ID)
	}
}

func TestQuizWalkthrough(t *testing.T) {
	conn := newTestDB(t)
	decks := NewDeckService(conn)
	quiz := NewQuizService(conn, decks)
	ctx := context.Background()

	deck, cards := seedQuizDeck(t, decks)
	session, err := quiz.Start(ctx, deck.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Card 0: mcq answered with the correct choice index.
	res, err := quiz.Answer(ctx, session.ID, cards[0].ID, "2")
	if err != nil {
		t.Fatalf("answer card 0: %v", err)
	}
	if !res.IsCorrect {
		t.Error("correct mcq key scored as wrong")
	}
	if res.Progress.Current != 1 || res.Progress.Correct != 1 || res.Progress.Total != 3 {
		t.Errorf("unexpected progress after card 0: %+v", res.Progress)
	}

	// Card 1: true/false answered wrongly.
	res, err = quiz.Answer(ctx, session.ID, cards[1].ID, "False")
	if err != nil {
		t.Fatalf("answer card 1: %v", err)
	}
	if res.IsCorrect {
		t.Error("wrong true/false answer scored as correct")
	}

	sess, err := quiz.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	checkSessionInvariant(t, sess)
	if sess.CurrentIdx != 2 || sess.NumCorrect != 1 {
		t.Fatalf("mid-quiz session idx=%d correct=%d, want 2/1", sess.CurrentIdx, sess.NumCorrect)
	}

	// Card 2: free answer with case and whitespace noise.
	res, err = quiz.Answer(ctx, session.ID, cards[2].ID, "  PARIS ")
	if err != nil {
		t.Fatalf("answer card 2: %v", err)
	}
	if !res.IsCorrect {
		t.Error("case-folded free answer scored as wrong")
	}

	// The session is now terminal.
	card, sess, err := quiz.Next(ctx, session.ID)
	if err != nil {
		t.Fatalf("next on complete session: %v", err)
	}
	if card != nil {
		t.Error("next returned a card after the last answer")
	}
	checkSessionInvariant(t, sess)
	if !sess.Complete() || sess.NumCorrect != 2 {
		t.Fatalf("final session: %+v", sess)
	}

	if _, err := quiz.Answer(ctx, session.ID, cards[0].ID, "2"); !errors.Is(err, ErrSessionComplete) {
		t.Fatalf("answer on complete session: expected ErrSessionComplete, got %v", err)
	}

	answers, err := quiz.ListAnswers(ctx, session.ID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(answers) != 3 {
		t.Fatalf("expected 3 recorded answers, got %d", len(answers))
	}
	if answers[1].IsCorrect {
		t.Error("answer log disagrees with scoring")
	}
}

func TestQuizNextAfterDeckGrowth(t *testing.T) {
	conn := newTestDB(t)
	decks := NewDeckService(conn)
	quiz := NewQuizService(conn, decks)
	ctx := context.Background()

	deck, _ := seedQuizDeck(t, decks)
	session, err := quiz.Start(ctx, deck.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, answer := range []string{"2", "True", "Paris"} {
		card, _, err := quiz.Next(ctx, session.ID)
		if err != nil || card == nil {
			t.Fatalf("next: card=%v err=%v", card, err)
		}
		if _, err := quiz.Answer(ctx, session.ID, card.ID, answer); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}

	// Cards added after completion must not reopen the session.
	late := []models.Card{{
		Type:     models.CardFreeAnswer,
		Question: "Which river flows through Paris?",
		Answer:   "Seine",
	}}
	if err := decks.InsertCards(ctx, deck.ID, late); err != nil {
		t.Fatalf("insert late card: %v", err)
	}

	card, sess, err := quiz.Next(ctx, session.ID)
	if err != nil {
		t.Fatalf("next after growth: %v", err)
	}
	if card != nil {
		t.Fatalf("terminal session served card %q after deck growth", card.Question)
	}
	if !sess.Complete() || sess.Total != 3 {
		t.Fatalf("session after growth: %+v", sess)
	}
}

func TestQuizAnswerUnknowns(t *testing.T) {
	conn := newTestDB(t)
	decks := NewDeckService(conn)
	quiz := NewQuizService(conn, decks)
	ctx := context.Background()

	deck, _ := seedQuizDeck(t, decks)
	session, err := quiz.Start(ctx, deck.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := quiz.Answer(ctx, "no-such-session", "whatever", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: expected ErrNotFound, got %v", err)
	}
	if _, err := quiz.Answer(ctx, session.ID, "no-such-card", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown card: expected ErrNotFound, got %v", err)
	}

	// A failed lookup must not advance the session.
	sess, err := quiz.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.CurrentIdx != 0 {
		t.Errorf("failed answer advanced the session to idx %d", sess.CurrentIdx)
	}
}

func TestScore(t *testing.T) {
	mcq := &models.Card{
		Type:       models.CardMultipleChoice,
		Answer:     "Paris",
		Choices:    []string{"London", "Berlin", "Paris", "Madrid"},
		CorrectKey: sql.NullString{String: "2", Valid: true},
	}

	t.Run("MCQKeyRoundTrip", func(t *testing.T) {
		if !Score(mcq, "2") {
			t.Error("correct key rejected")
		}
		for _, wrong := range []string{"0", "1", "3", "paris", "Paris", ""} {
			if Score(mcq, wrong) {
				t.Errorf("mcq accepted %q", wrong)
			}
		}
	})

	t.Run("MCQWithoutKey", func(t *testing.T) {
		card := &models.Card{Type: models.CardMultipleChoice, Answer: "Paris"}
		if Score(card, "Paris") || Score(card, "0") {
			t.Error("mcq without a stored key must never score correct")
		}
	})

	t.Run("TextFolding", func(t *testing.T) {
		free := &models.Card{Type: models.CardFreeAnswer, Answer: "Paris"}
		for _, ok := range []string{"paris", " Paris ", "PARIS"} {
			if !Score(free, ok) {
				t.Errorf("free answer rejected %q", ok)
			}
		}
		if Score(free, "London") || Score(free, "") {
			t.Error("free answer accepted a wrong value")
		}
	})

	t.Run("TrueFalse", func(t *testing.T) {
		card := &models.Card{Type: models.CardTrueFalse, Answer: "True"}
		if !Score(card, "true") || Score(card, "false") {
			t.Error("true/false scoring broken")
		}
	})
}
