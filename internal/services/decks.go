package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"studydeck/internal/models"
)

var (
	// ErrNotFound indicates the referenced deck, card or session is absent.
	ErrNotFound = errors.New("not found")
	// ErrEmptyCorpus indicates the deck's uploads hold no usable text.
	ErrEmptyCorpus = errors.New("no usable text content in uploads")
)

// corpusSeparator joins the extracted texts of a deck's uploads.
const corpusSeparator = "\n\n---\n\n"

// DeckService owns persistence for decks, uploads and cards.
type DeckService struct {
	db *sql.DB
}

func NewDeckService(db *sql.DB) *DeckService {
	return &DeckService{db: db}
}

func (s *DeckService) Create(ctx context.Context, title, description, ownerID string) (*models.Deck, error) {
	if ownerID == "" {
		ownerID = "anonymous"
	}
	now := time.Now().UTC()
	deck := &models.Deck{
		ID:        uuid.NewString(),
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if description != "" {
		deck.Description = sql.NullString{String: description, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO decks (id, title, description, owner_id, total_items, studied_items, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?);
	`, deck.ID, deck.Title, nullStringPtr(deck.Description), deck.OwnerID, now, now); err != nil {
		return nil, fmt.Errorf("insert deck: %w", err)
	}
	return deck, nil
}

// List returns all decks, most recently updated first.
func (s *DeckService) List(ctx context.Context) ([]models.Deck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, owner_id, total_items, studied_items, created_at, updated_at
		FROM decks
		ORDER BY updated_at DESC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	defer rows.Close()

	var decks []models.Deck
	for rows.Next() {
		var deck models.Deck
		if err := rows.Scan(
			&deck.ID,
			&deck.Title,
			&deck.Description,
			&deck.OwnerID,
			&deck.TotalItems,
			&deck.StudiedItems,
			&deck.CreatedAt,
			&deck.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan deck: %w", err)
		}
		decks = append(decks, deck)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decks: %w", err)
	}
	return decks, nil
}

// Get returns the deck row alone.
func (s *DeckService) Get(ctx context.Context, deckID string) (*models.Deck, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, owner_id, total_items, studied_items, created_at, updated_at
		FROM decks WHERE id = ?;
	`, deckID)

	var deck models.Deck
	if err := row.Scan(
		&deck.ID,
		&deck.Title,
		&deck.Description,
		&deck.OwnerID,
		&deck.TotalItems,
		&deck.StudiedItems,
		&deck.CreatedAt,
		&deck.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deck %s: %w", deckID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan deck: %w", err)
	}
	return &deck, nil
}

// GetFull returns the deck with its cards and uploads loaded.
func (s *DeckService) GetFull(ctx context.Context, deckID string) (*models.Deck, error) {
	deck, err := s.Get(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if deck.Cards, err = s.ListCards(ctx, deckID); err != nil {
		return nil, err
	}
	if deck.Uploads, err = s.ListUploads(ctx, deckID); err != nil {
		return nil, err
	}
	return deck, nil
}

// AddUpload records one ingested file under a deck. The extracted text
// is written once here and is immutable afterwards.
func (s *DeckService) AddUpload(ctx context.Context, deckID, filename, mimetype, filepath, textContent string) (*models.Upload, error) {
	if _, err := s.Get(ctx, deckID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	upload := &models.Upload{
		ID:        uuid.NewString(),
		DeckID:    deckID,
		Filename:  filename,
		Mimetype:  mimetype,
		Filepath:  filepath,
		CreatedAt: now,
	}
	if textContent != "" {
		upload.TextContent = sql.NullString{String: textContent, Valid: true}
	}

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
		INSERT INTO uploads (id, deck_id, filename, mimetype, filepath, text_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, upload.ID, deckID, filename, mimetype, filepath, nullStringPtr(upload.TextContent), now); err != nil {
		return nil, fmt.Errorf("insert upload: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE decks SET updated_at = ? WHERE id = ?;`, now, deckID); err != nil {
		return nil, fmt.Errorf("touch deck: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upload: %w", err)
	}
	return upload, nil
}

func (s *DeckService) ListUploads(ctx context.Context, deckID string) ([]models.Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deck_id, filename, mimetype, filepath, text_content, created_at
		FROM uploads WHERE deck_id = ?
		ORDER BY created_at ASC;
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		var u models.Upload
		if err := rows.Scan(&u.ID, &u.DeckID, &u.Filename, &u.Mimetype, &u.Filepath, &u.TextContent, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return uploads, nil
}

// Corpus concatenates the deck's extracted texts, skipping blanks.
// Returns ErrEmptyCorpus when nothing usable remains after trimming.
func (s *DeckService) Corpus(ctx context.Context, deckID string) (string, error) {
	uploads, err := s.ListUploads(ctx, deckID)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, u := range uploads {
		if u.TextContent.Valid && strings.TrimSpace(u.TextContent.String) != "" {
			parts = append(parts, u.TextContent.String)
		}
	}
	corpus := strings.Join(parts, corpusSeparator)
	if strings.TrimSpace(corpus) == "" {
		return "", ErrEmptyCorpus
	}
	return corpus, nil
}

// InsertCards persists a batch of cards and refreshes the deck's
// total_items inside a single transaction: either every card in the
// batch becomes visible or none do.
func (s *DeckService) InsertCards(ctx context.Context, deckID string, cards []models.Card) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var position int
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM cards WHERE deck_id = ?;`, deckID,
	).Scan(&position); err != nil {
		return fmt.Errorf("next card position: %w", err)
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (id, deck_id, card_type, question, answer, explanation, choices_json,
		                   correct_key, difficulty, source, position, due, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	for i := range cards {
		card := &cards[i]
		if !card.Type.Valid() {
			return fmt.Errorf("invalid card type %q", card.Type)
		}
		if card.ID == "" {
			card.ID = uuid.NewString()
		}
		card.DeckID = deckID
		card.Position = position + i
		card.CreatedAt = now
		if !card.Due.Valid {
			card.Due = sql.NullTime{Time: now, Valid: true}
		}

		var choicesJSON any
		if len(card.Choices) > 0 {
			encoded, jerr := json.Marshal(card.Choices)
			if jerr != nil {
				return fmt.Errorf("encode choices: %w", jerr)
			}
			choicesJSON = string(encoded)
		}

		if _, err = stmt.ExecContext(ctx,
			card.ID,
			deckID,
			string(card.Type),
			card.Question,
			card.Answer,
			nullStringPtr(card.Explanation),
			choicesJSON,
			nullStringPtr(card.CorrectKey),
			nullStringPtr(card.Difficulty),
			nullStringPtr(card.Source),
			card.Position,
			card.Due.Time,
			now,
		); err != nil {
			return fmt.Errorf("insert card %q: %w", card.Question, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE decks
		SET total_items = (SELECT COUNT(*) FROM cards WHERE deck_id = ?), updated_at = ?
		WHERE id = ?;
	`, deckID, now, deckID); err != nil {
		return fmt.Errorf("update deck totals: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit card batch: %w", err)
	}
	return nil
}

// ListCards returns the deck's cards in position order.
func (s *DeckService) ListCards(ctx context.Context, deckID string) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, cardSelect+`
		WHERE deck_id = ?
		ORDER BY position ASC, created_at ASC;
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

// GetCard loads a single card by id.
func (s *DeckService) GetCard(ctx context.Context, cardID string) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, cardSelect+` WHERE id = ?;`, cardID)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		return nil, err
	}
	return card, nil
}

const cardSelect = `
	SELECT id, deck_id, card_type, question, answer, explanation, choices_json,
	       correct_key, difficulty, source, position, due, stability, review_difficulty,
	       elapsed_days, scheduled_days, reps, lapses, state, last_review, created_at
	FROM cards`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	var card models.Card
	var choicesJSON sql.NullString
	if err := row.Scan(
		&card.ID,
		&card.DeckID,
		&card.Type,
		&card.Question,
		&card.Answer,
		&card.Explanation,
		&choicesJSON,
		&card.CorrectKey,
		&card.Difficulty,
		&card.Source,
		&card.Position,
		&card.Due,
		&card.Stability,
		&card.ReviewDifficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan card: %w", err)
	}
	if choicesJSON.Valid && choicesJSON.String != "" {
		if err := json.Unmarshal([]byte(choicesJSON.String), &card.Choices); err != nil {
			return nil, fmt.Errorf("decode choices for card %s: %w", card.ID, err)
		}
	}
	return &card, nil
}

func nullStringPtr(v sql.NullString) any {
	if v.Valid {
		return v.String
	}
	return nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}
