package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studydeck/internal/extract"
	"studydeck/internal/models"
	"studydeck/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

type Server struct {
	mux       *http.ServeMux
	decks     *services.DeckService
	pipeline  *services.PipelineService
	quiz      *services.QuizService
	chat      *services.ChatService
	review    *services.ReviewService
	uploadDir string
	logger    *zap.Logger
}

func NewServer(
	decks *services.DeckService,
	pipeline *services.PipelineService,
	quiz *services.QuizService,
	chat *services.ChatService,
	review *services.ReviewService,
	uploadDir string,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		decks:     decks,
		pipeline:  pipeline,
		quiz:      quiz,
		chat:      chat,
		review:    review,
		uploadDir: uploadDir,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/decks", s.handleDecks)
	s.mux.HandleFunc("/api/decks/import", s.handleImport)
	s.mux.HandleFunc("/api/decks/", s.handleDeckActions)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/quiz/start", s.handleQuizStart)
	s.mux.HandleFunc("/api/quiz/", s.handleQuizActions)
	s.mux.HandleFunc("/api/cards/", s.handleCardActions)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDecks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		decks, err := s.decks.List(r.Context())
		if err != nil {
			s.respondError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(decks))
		for i := range decks {
			out = append(out, deckJSON(&decks[i], false))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var payload struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			OwnerID     string `json:"ownerId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if strings.TrimSpace(payload.Title) == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		deck, err := s.decks.Create(r.Context(), payload.Title, payload.Description, payload.OwnerID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deckJSON(deck, false))

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleDeckActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/decks/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	deckID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleGetDeck(w, r, deckID)
	case len(parts) == 2 && parts[1] == "upload":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleUpload(w, r, deckID)
	case len(parts) == 2 && parts[1] == "generate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleGenerate(w, r, deckID)
	case len(parts) == 2 && parts[1] == "summary":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleSummary(w, r, deckID)
	case len(parts) == 2 && parts[1] == "chat":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleChatHistory(w, r, deckID)
	case len(parts) == 3 && parts[1] == "review" && parts[2] == "next":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleReviewNext(w, r, deckID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetDeck(w http.ResponseWriter, r *http.Request, deckID string) {
	deck, err := s.decks.GetFull(r.Context(), deckID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deckJSON(deck, true))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, deckID string) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file")
		return
	}
	defer file.Close()

	ingested, err := s.ingestFile(file, header)
	if err != nil {
		s.respondError(w, err)
		return
	}

	upload, err := s.decks.AddUpload(r.Context(), deckID, ingested.Filename, ingested.Mimetype, ingested.Filepath, ingested.Text)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadJSON(upload))
}

// ingestFile stores the raw upload under a fresh name and extracts its
// text in the same pass.
func (s *Server) ingestFile(file multipart.File, header *multipart.FileHeader) (*services.IngestedFile, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, err
	}
	storedPath := filepath.Join(s.uploadDir, uuid.NewString()+filepath.Ext(header.Filename))
	out, err := os.Create(storedPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		return nil, err
	}

	mimetype := header.Header.Get("Content-Type")
	stored, err := os.Open(storedPath)
	if err != nil {
		return nil, err
	}
	defer stored.Close()

	text, err := extract.Text(stored, mimetype, header.Filename)
	if err != nil {
		return nil, err
	}

	return &services.IngestedFile{
		Filename: header.Filename,
		Mimetype: mimetype,
		Filepath: storedPath,
		Text:     text,
	}, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, deckID string) {
	added, err := s.pipeline.GenerateForDeck(r.Context(), deckID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	files := make([]services.IngestedFile, 0, len(headers))
	for _, header := range headers {
		src, err := header.Open()
		if err != nil {
			s.respondError(w, err)
			return
		}
		ingested, err := s.ingestFile(src, header)
		src.Close()
		if err != nil {
			s.respondError(w, err)
			return
		}
		files = append(files, *ingested)
	}

	deck, err := s.pipeline.ProcessUploadedFiles(r.Context(), files)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deckJSON(deck, true))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, deckID string) {
	summary, err := s.pipeline.Summarize(r.Context(), deckID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload struct {
		DeckID    string `json:"deckId"`
		Message   string `json:"message"`
		CardID    string `json:"cardId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.DeckID == "" || strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, "deckId and message are required")
		return
	}

	msg, err := s.chat.Send(r.Context(), payload.DeckID, payload.Message, payload.CardID, payload.SessionID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatJSON(msg))
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, deckID string) {
	messages, err := s.chat.History(r.Context(), deckID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(messages))
	for i := range messages {
		out = append(out, chatJSON(&messages[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleQuizStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload struct {
		DeckID string `json:"deckId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.DeckID == "" {
		writeError(w, http.StatusBadRequest, "deckId is required")
		return
	}

	session, err := s.quiz.Start(r.Context(), payload.DeckID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": session.ID})
}

func (s *Server) handleQuizActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/quiz/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	sessionID := parts[0]

	switch parts[1] {
	case "next":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleQuizNext(w, r, sessionID)
	case "answer":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleQuizAnswer(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleQuizNext(w http.ResponseWriter, r *http.Request, sessionID string) {
	card, session, err := s.quiz.Next(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if card == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"done":  true,
			"score": session.NumCorrect,
			"total": session.Total,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": quizCardJSON(card)})
}

func (s *Server) handleQuizAnswer(w http.ResponseWriter, r *http.Request, sessionID string) {
	var payload struct {
		CardID     string `json:"cardId"`
		UserAnswer string `json:"userAnswer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.CardID == "" {
		writeError(w, http.StatusBadRequest, "cardId and userAnswer are required")
		return
	}

	result, err := s.quiz.Answer(r.Context(), sessionID, payload.CardID, payload.UserAnswer)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isCorrect":   result.IsCorrect,
		"explanation": result.Explanation,
		"progress":    result.Progress,
	})
}

func (s *Server) handleCardActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/cards/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "review" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload struct {
		Rating string `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	rating, err := services.ParseRating(payload.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, err := s.review.ReviewCard(r.Context(), parts[0], rating)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"card": map[string]any{
			"id":    card.ID,
			"due":   nullTimeToString(card.Due),
			"state": card.State,
			"reps":  card.Reps,
		},
	})
}

func (s *Server) handleReviewNext(w http.ResponseWriter, r *http.Request, deckID string) {
	card, err := s.review.NextDue(r.Context(), deckID)
	if err != nil {
		if errors.Is(err, services.ErrNoDueCards) {
			writeJSON(w, http.StatusOK, map[string]any{
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": cardJSON(card)})
}

// respondError maps service errors onto the HTTP surface.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrEmptyCorpus),
		errors.Is(err, services.ErrAIUnavailable),
		errors.Is(err, services.ErrGenerationParse),
		errors.Is(err, extract.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrSessionComplete):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

const timeLayout = time.RFC3339

func deckJSON(deck *models.Deck, includeChildren bool) map[string]any {
	out := map[string]any{
		"id":           deck.ID,
		"title":        deck.Title,
		"description":  nullString(deck.Description),
		"ownerId":      deck.OwnerID,
		"totalItems":   deck.TotalItems,
		"studiedItems": deck.StudiedItems,
		"createdAt":    deck.CreatedAt.Format(timeLayout),
		"updatedAt":    deck.UpdatedAt.Format(timeLayout),
	}
	if includeChildren {
		cards := make([]map[string]any, 0, len(deck.Cards))
		for i := range deck.Cards {
			cards = append(cards, cardJSON(&deck.Cards[i]))
		}
		uploads := make([]map[string]any, 0, len(deck.Uploads))
		for i := range deck.Uploads {
			uploads = append(uploads, uploadJSON(&deck.Uploads[i]))
		}
		out["cards"] = cards
		out["uploads"] = uploads
	}
	return out
}

func cardJSON(card *models.Card) map[string]any {
	return map[string]any{
		"id":          card.ID,
		"deckId":      card.DeckID,
		"type":        string(card.Type),
		"question":    card.Question,
		"answer":      card.Answer,
		"explanation": nullString(card.Explanation),
		"choices":     card.Choices,
		"correctKey":  nullString(card.CorrectKey),
		"difficulty":  nullString(card.Difficulty),
		"source":      nullString(card.Source),
	}
}

// quizCardJSON exposes a card to an in-progress quiz: choices are
// visible, the answer key is not.
func quizCardJSON(card *models.Card) map[string]any {
	out := map[string]any{
		"id":       card.ID,
		"type":     string(card.Type),
		"question": card.Question,
	}
	if card.Type == models.CardMultipleChoice {
		out["choices"] = card.Choices
	}
	return out
}

func uploadJSON(upload *models.Upload) map[string]any {
	return map[string]any{
		"id":        upload.ID,
		"deckId":    upload.DeckID,
		"filename":  upload.Filename,
		"mimetype":  upload.Mimetype,
		"filepath":  upload.Filepath,
		"hasText":   upload.TextContent.Valid && upload.TextContent.String != "",
		"createdAt": upload.CreatedAt.Format(timeLayout),
	}
}

func chatJSON(msg *models.ChatMessage) map[string]any {
	return map[string]any{
		"id":        msg.ID,
		"deckId":    msg.DeckID,
		"role":      string(msg.Role),
		"content":   msg.Content,
		"cardId":    nullString(msg.CardID),
		"sessionId": nullString(msg.SessionID),
		"createdAt": msg.CreatedAt.Format(timeLayout),
	}
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
