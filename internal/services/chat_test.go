package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"studydeck/internal/models"
)

type stubChatModel struct {
	available bool
	reply     string
	err       error

	lastMessage string
	lastContext string
}

func (s *stubChatModel) Available() bool { return s.available }

func (s *stubChatModel) Chat(ctx context.Context, message, deckContext string) (string, error) {
	s.lastMessage = message
	s.lastContext = deckContext
	return s.reply, s.err
}

func TestChatSend(t *testing.T) {
	ctx := context.Background()

	t.Run("ModelReplyPersisted", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		model := &stubChatModel{available: true, reply: "Mitosis has four phases."}
		chat := NewChatService(conn, decks, model, false, nil)

		deck, err := decks.Create(ctx, "Biology", "", "")
		if err != nil {
			t.Fatalf("create deck: %v", err)
		}
		if _, err := decks.AddUpload(ctx, deck.ID, "a.txt", "text/plain", "/tmp/a", "cells divide by mitosis"); err != nil {
			t.Fatalf("add upload: %v", err)
		}

		msg, err := chat.Send(ctx, deck.ID, "explain mitosis", "", "")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if msg.Role != models.RoleAssistant || msg.Content != "Mitosis has four phases." {
			t.Fatalf("unexpected reply message: %+v", msg)
		}
		if !strings.Contains(model.lastContext, "cells divide by mitosis") {
			t.Errorf("deck context missing upload text: %q", model.lastContext)
		}

		history, err := chat.History(ctx, deck.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected user+assistant in history, got %d messages", len(history))
		}
		if history[0].Role != models.RoleUser || history[0].Content != "explain mitosis" {
			t.Errorf("first history entry: %+v", history[0])
		}
		if history[1].Role != models.RoleAssistant {
			t.Errorf("second history entry: %+v", history[1])
		}
	})

	t.Run("CardContextAppended", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		model := &stubChatModel{available: true, reply: "ok"}
		chat := NewChatService(conn, decks, model, false, nil)

		deck, cards := seedQuizDeck(t, decks)
		if _, err := chat.Send(ctx, deck.ID, "help", cards[0].ID, ""); err != nil {
			t.Fatalf("send: %v", err)
		}
		if !strings.Contains(model.lastContext, "FLASHCARD:") ||
			!strings.Contains(model.lastContext, cards[0].Question) {
			t.Errorf("card block missing from context: %q", model.lastContext)
		}
	})

	t.Run("UnavailableWithoutDemoMode", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		chat := NewChatService(conn, decks, &stubChatModel{available: false}, false, nil)

		deck, _ := seedQuizDeck(t, decks)
		if _, err := chat.Send(ctx, deck.ID, "hi", "", ""); !errors.Is(err, ErrAIUnavailable) {
			t.Fatalf("expected ErrAIUnavailable, got %v", err)
		}

		history, err := chat.History(ctx, deck.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 0 {
			t.Errorf("failed send still wrote %d messages", len(history))
		}
	})

	t.Run("DemoModeKeywordReply", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		chat := NewChatService(conn, decks, &stubChatModel{available: false}, true, nil)

		deck, _ := seedQuizDeck(t, decks)
		msg, err := chat.Send(ctx, deck.ID, "Can you explain MITOSIS to me?", "", "")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if !strings.Contains(msg.Content, "daughter cells") {
			t.Errorf("keyword reply not used: %q", msg.Content)
		}
	})

	t.Run("DemoModeRotatesCannedReplies", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		chat := NewChatService(conn, decks, &stubChatModel{available: false}, true, nil)

		deck, _ := seedQuizDeck(t, decks)
		first, err := chat.Send(ctx, deck.ID, "question one", "", "")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		second, err := chat.Send(ctx, deck.ID, "question two", "", "")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if first.Content == second.Content {
			t.Error("canned replies did not rotate")
		}
	})

	t.Run("DemoModeConcurrentSends", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		chat := NewChatService(conn, decks, &stubChatModel{available: false}, true, nil)

		deck, _ := seedQuizDeck(t, decks)

		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := chat.Send(ctx, deck.ID, "what should I study", "", ""); err != nil {
					t.Errorf("concurrent send: %v", err)
				}
			}()
		}
		wg.Wait()

		history, err := chat.History(ctx, deck.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 24 {
			t.Errorf("expected 24 messages, got %d", len(history))
		}
	})

	t.Run("DemoModeCoversModelFailure", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		model := &stubChatModel{available: true, err: errors.New("boom")}
		chat := NewChatService(conn, decks, model, true, nil)

		deck, _ := seedQuizDeck(t, decks)
		msg, err := chat.Send(ctx, deck.ID, "anything", "", "")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if msg.Content == "" {
			t.Error("demo mode returned an empty reply on model failure")
		}
	})

	t.Run("UnknownDeck", func(t *testing.T) {
		conn := newTestDB(t)
		decks := NewDeckService(conn)
		chat := NewChatService(conn, decks, &stubChatModel{available: false}, true, nil)

		if _, err := chat.Send(ctx, "missing", "hi", "", ""); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := chat.History(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("history on unknown deck: expected ErrNotFound, got %v", err)
		}
	})
}
