package models

import (
	"database/sql"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

// CardType is the closed set of question kinds a deck can hold.
type CardType string

const (
	CardMultipleChoice CardType = "mcq"
	CardTrueFalse      CardType = "true-false"
	CardFillBlank      CardType = "fill-blank"
	CardFreeAnswer     CardType = "free"
)

// Valid reports whether t is one of the known card types.
func (t CardType) Valid() bool {
	switch t {
	case CardMultipleChoice, CardTrueFalse, CardFillBlank, CardFreeAnswer:
		return true
	}
	return false
}

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// Deck is the aggregate root owning uploads, cards, chat messages and
// quiz sessions.
type Deck struct {
	ID           string
	Title        string
	Description  sql.NullString
	OwnerID      string
	TotalItems   int
	StudiedItems int
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Cards   []Card
	Uploads []Upload
}

// Upload is one ingested file. Its text content is set once, at
// extraction time, and never mutated afterwards.
type Upload struct {
	ID          string
	DeckID      string
	Filename    string
	Mimetype    string
	Filepath    string
	TextContent sql.NullString
	CreatedAt   time.Time
}

type Card struct {
	ID          string
	DeckID      string
	Type        CardType
	Question    string
	Answer      string
	Explanation sql.NullString
	Choices     []string
	CorrectKey  sql.NullString
	Difficulty  sql.NullString
	Source      sql.NullString
	Position    int
	CreatedAt   time.Time

	// FSRS scheduling state for the flashcard review loop.
	Due              sql.NullTime
	Stability        float64
	ReviewDifficulty float64
	ElapsedDays      int
	ScheduledDays    int
	Reps             int
	Lapses           int
	State            int
	LastReview       sql.NullTime
}

// QuizSession is one learner's linear pass through a deck's cards.
// Invariant: 0 <= CurrentIdx <= Total and 0 <= NumCorrect <= CurrentIdx.
type QuizSession struct {
	ID         string
	DeckID     string
	Total      int
	CurrentIdx int
	NumCorrect int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Complete reports whether the session has consumed every card.
func (s *QuizSession) Complete() bool {
	return s.CurrentIdx >= s.Total
}

// QuizAnswer is an append-only log entry, one per answered card.
type QuizAnswer struct {
	ID         string
	SessionID  string
	CardID     string
	UserAnswer string
	IsCorrect  bool
	Feedback   sql.NullString
	CreatedAt  time.Time
}

type ChatMessage struct {
	ID        string
	DeckID    string
	Role      ChatRole
	Content   string
	CardID    sql.NullString
	SessionID sql.NullString
	CreatedAt time.Time
}

// GeneratedFlashcard is the validated shape of one model-produced
// flashcard before persistence.
type GeneratedFlashcard struct {
	Front      string `json:"front"`
	Back       string `json:"back"`
	Difficulty string `json:"difficulty"`
	Source     string `json:"source"`
}

// GeneratedQuestion is the validated shape of one model-produced quiz
// question before persistence.
type GeneratedQuestion struct {
	Text          string   `json:"text"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty"`
	Source        string   `json:"source"`
}

// Progress is the per-answer progress snapshot returned to the client.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

func (c *Card) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     c.Stability,
		Difficulty:    c.ReviewDifficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
	}
	if c.Due.Valid {
		card.Due = c.Due.Time
	}
	if c.LastReview.Valid {
		card.LastReview = c.LastReview.Time
	}
	return card
}

func (c *Card) ApplyFSRSCard(f fsrs.Card) {
	c.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	c.Stability = f.Stability
	c.ReviewDifficulty = f.Difficulty
	c.ElapsedDays = int(f.ElapsedDays)
	c.ScheduledDays = int(f.ScheduledDays)
	c.Reps = int(f.Reps)
	c.Lapses = int(f.Lapses)
	c.State = int(f.State)
	c.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}
