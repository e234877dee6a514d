// Package state mirrors the UI layer's in-memory learning state: the
// deck list, the current selection, in-flight uploads, and chat history.
// It is an explicit store passed to the UI tree root, not a process-wide
// singleton, and it persists nothing across restarts.
package state

import (
	"sync"
	"time"
)

// DeckSummary is the slice of a deck the UI layer tracks.
type DeckSummary struct {
	ID           string
	Title        string
	TotalItems   int
	StudiedItems int
	UpdatedAt    time.Time
}

// UploadedFile tracks one file through the upload flow; Processed flips
// once extraction has produced usable text.
type UploadedFile struct {
	Name      string
	Processed bool
}

// ChatEntry is one rendered chat line.
type ChatEntry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Snapshot is an immutable copy of the store contents.
type Snapshot struct {
	Decks         []DeckSummary
	CurrentDeckID string
	UploadedFiles []UploadedFile
	ChatMessages  []ChatEntry
	Loading       bool
}

// Action is a closed set of synchronous, pure reductions.
type Action interface{ isAction() }

type AddDeck struct{ Deck DeckSummary }
type SetCurrentDeck struct{ DeckID string }
type AddUploadedFile struct{ File UploadedFile }
type SetUploadedFiles struct{ Files []UploadedFile }
type AddChatMessage struct{ Message ChatEntry }
type ClearChat struct{}
type SetLoading struct{ Loading bool }

func (AddDeck) isAction()          {}
func (SetCurrentDeck) isAction()   {}
func (AddUploadedFile) isAction()  {}
func (SetUploadedFiles) isAction() {}
func (AddChatMessage) isAction()   {}
func (ClearChat) isAction()        {}
func (SetLoading) isAction()       {}

// Store holds the learning state behind a lock; Dispatch applies one
// action at a time.
type Store struct {
	mu    sync.RWMutex
	state Snapshot
}

func NewStore() *Store {
	return &Store{}
}

// Dispatch applies the action. Unknown deck ids in SetCurrentDeck are
// accepted as-is: the store mirrors what the UI asked for, it does not
// validate against the backend.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch a := action.(type) {
	case AddDeck:
		s.state.Decks = append(s.state.Decks, a.Deck)
	case SetCurrentDeck:
		s.state.CurrentDeckID = a.DeckID
	case AddUploadedFile:
		s.state.UploadedFiles = append(s.state.UploadedFiles, a.File)
	case SetUploadedFiles:
		s.state.UploadedFiles = append([]UploadedFile(nil), a.Files...)
	case AddChatMessage:
		s.state.ChatMessages = append(s.state.ChatMessages, a.Message)
	case ClearChat:
		s.state.ChatMessages = nil
	case SetLoading:
		s.state.Loading = a.Loading
	}
}

// Snapshot returns a deep copy safe for concurrent readers.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		CurrentDeckID: s.state.CurrentDeckID,
		Loading:       s.state.Loading,
	}
	out.Decks = append([]DeckSummary(nil), s.state.Decks...)
	out.UploadedFiles = append([]UploadedFile(nil), s.state.UploadedFiles...)
	out.ChatMessages = append([]ChatEntry(nil), s.state.ChatMessages...)
	return out
}
