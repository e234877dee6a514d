package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studydeck/internal/models"
)

// chatModel is the slice of the AI service the chat path depends on.
type chatModel interface {
	Available() bool
	Chat(ctx context.Context, message, deckContext string) (string, error)
}

// ChatService answers learner questions over a deck's corpus and keeps
// the append-only per-deck chat log.
type ChatService struct {
	db       *sql.DB
	decks    *DeckService
	ai       chatModel
	demoMode bool
	logger   *zap.Logger

	mu        sync.Mutex
	cannedIdx int
}

func NewChatService(db *sql.DB, decks *DeckService, ai chatModel, demoMode bool, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{db: db, decks: decks, ai: ai, demoMode: demoMode, logger: logger}
}

// Send stores the user message, obtains the assistant reply, stores it,
// and returns the persisted assistant message. When demo mode is on, a
// failed or unconfigured model call degrades to a canned reply instead
// of propagating the error.
func (s *ChatService) Send(ctx context.Context, deckID, message, cardID, sessionID string) (*models.ChatMessage, error) {
	deck, err := s.decks.GetFull(ctx, deckID)
	if err != nil {
		return nil, err
	}

	deckContext := s.buildContext(deck, cardID)

	reply, err := s.reply(ctx, message, deckContext)
	if err != nil {
		return nil, err
	}

	if _, err := s.append(ctx, deckID, models.RoleUser, message, cardID, sessionID); err != nil {
		return nil, err
	}
	return s.append(ctx, deckID, models.RoleAssistant, reply, cardID, sessionID)
}

func (s *ChatService) reply(ctx context.Context, message, deckContext string) (string, error) {
	if s.ai.Available() {
		reply, err := s.ai.Chat(ctx, message, deckContext)
		if err == nil {
			return reply, nil
		}
		if !s.demoMode {
			return "", err
		}
		s.logger.Warn("chat model call failed, using canned reply", zap.Error(err))
	} else if !s.demoMode {
		return "", ErrAIUnavailable
	}
	return s.cannedReply(message), nil
}

func (s *ChatService) buildContext(deck *models.Deck, cardID string) string {
	var parts []string
	for _, u := range deck.Uploads {
		if u.TextContent.Valid && strings.TrimSpace(u.TextContent.String) != "" {
			parts = append(parts, u.TextContent.String)
		}
	}
	deckContext := strings.Join(parts, "\n\n")

	if cardID != "" {
		for _, card := range deck.Cards {
			if card.ID == cardID {
				deckContext += fmt.Sprintf("\n\nFLASHCARD:\nQ: %s\nA: %s", card.Question, card.Answer)
				break
			}
		}
	}
	return deckContext
}

func (s *ChatService) append(ctx context.Context, deckID string, role models.ChatRole, content, cardID, sessionID string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		DeckID:    deckID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if cardID != "" {
		msg.CardID = sql.NullString{String: cardID, Valid: true}
	}
	if sessionID != "" {
		msg.SessionID = sql.NullString{String: sessionID, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, deck_id, role, content, card_id, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, msg.ID, deckID, string(role), content, nullStringPtr(msg.CardID), nullStringPtr(msg.SessionID), msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	return msg, nil
}

// History returns the deck's chat log in creation order.
func (s *ChatService) History(ctx context.Context, deckID string) ([]models.ChatMessage, error) {
	if _, err := s.decks.Get(ctx, deckID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deck_id, role, content, card_id, session_id, created_at
		FROM chat_messages WHERE deck_id = ?
		ORDER BY created_at ASC;
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.DeckID, &m.Role, &m.Content, &m.CardID, &m.SessionID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}

// cannedResponses rotate when demo mode has no better answer. They are
// a degraded offline mode, not a correctness guarantee.
var cannedResponses = []string{
	"That's a great question! Let me help you understand this concept better.",
	"I can explain that for you. Here's what you need to know...",
	"Excellent question! This relates to several important concepts in your study material.",
	"Let me break this down for you step by step.",
	"This is a common point of confusion. Here's the explanation...",
	"Great! This connects to what you've been studying. Here's how...",
}

var keywordResponses = map[string]string{
	"mitosis":        "Mitosis is the process of cell division that creates two identical daughter cells. It consists of several phases: prophase, metaphase, anaphase, and telophase. This process is essential for growth, repair, and asexual reproduction in organisms.",
	"photosynthesis": "Photosynthesis is the process by which plants convert light energy into chemical energy. The overall equation is: 6CO2 + 6H2O + light energy -> C6H12O6 + 6O2. This process occurs in the chloroplasts and is crucial for life on Earth.",
	"protein":        "Proteins are macromolecules composed of amino acids. They have four levels of structure: primary (amino acid sequence), secondary (alpha helices and beta sheets), tertiary (3D folding), and quaternary (multiple polypeptide chains). Proteins serve many functions including enzymes, structural support, and transport.",
}

func (s *ChatService) cannedReply(message string) string {
	lower := strings.ToLower(message)
	for keyword, reply := range keywordResponses {
		if strings.Contains(lower, keyword) {
			return reply
		}
	}
	s.mu.Lock()
	reply := cannedResponses[s.cannedIdx%len(cannedResponses)]
	s.cannedIdx++
	s.mu.Unlock()
	return reply
}

var _ chatModel = (*AIService)(nil)
