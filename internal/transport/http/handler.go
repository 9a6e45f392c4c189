package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"exam-trainer-service/internal/app"
	"exam-trainer-service/internal/domain"
)

const tokenHeader = "X-Session-Token"

// Notifier receives finished sessions and stats snapshots. Calls happen off
// the request path; implementations must swallow their own failures.
type Notifier interface {
	SessionFinished(ctx context.Context, summary domain.SessionSummary)
	OverallStats(ctx context.Context, stats domain.OverallStats)
}

// NopNotifier is used when no messaging channel is configured.
type NopNotifier struct{}

func (NopNotifier) SessionFinished(context.Context, domain.SessionSummary) {}
func (NopNotifier) OverallStats(context.Context, domain.OverallStats)      {}

// Handler binds the session engine and statistics aggregator to the JSON API.
type Handler struct {
	service            *app.SessionService
	stats              app.StatsStore
	notifier           Notifier
	telegramConfigured bool
	log                *slog.Logger
}

func NewHandler(service *app.SessionService, stats app.StatsStore, notifier Notifier, telegramConfigured bool, log *slog.Logger) *Handler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		service:            service,
		stats:              stats,
		notifier:           notifier,
		telegramConfigured: telegramConfigured,
		log:                log,
	}
}

// Register wires all API routes into the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session-start", h.startSession)
	mux.HandleFunc("GET /api/session/{id}/next", h.nextQuestion)
	mux.HandleFunc("POST /api/session/{id}/submit-answer", h.submitAnswer)
	mux.HandleFunc("POST /api/session/{id}/focus-switch", h.focusSwitch)
	mux.HandleFunc("POST /api/session-end", h.endSession)
	mux.HandleFunc("GET /api/stats/session/{id}", h.sessionStats)
	mux.HandleFunc("GET /api/stats", h.overallStats)
	mux.HandleFunc("GET /api/health", h.health)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserUUID string `json:"userUuid"`
		Mode     string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserUUID == "" || req.Mode == "" {
		writeError(w, http.StatusBadRequest, "userUuid and mode are required")
		return
	}

	created, err := h.service.Create(r.Context(), req.UserUUID, domain.Mode(req.Mode))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"sessionId":      created.SessionID,
		"sessionToken":   created.SessionToken,
		"totalQuestions": created.TotalQuestions,
	})
}

func (h *Handler) nextQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID, token, ok := h.sessionAuth(w, r)
	if !ok {
		return
	}

	result, err := h.service.NextQuestion(r.Context(), sessionID, token)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if result.Completed {
		writeJSON(w, http.StatusOK, map[string]interface{}{"completed": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"questionIndex":  result.QuestionIndex,
		"totalQuestions": result.TotalQuestions,
		"question":       result.Question,
	})
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID, token, ok := h.sessionAuth(w, r)
	if !ok {
		return
	}

	var req struct {
		QuestionNumber int64 `json:"questionNumber"`
		AnswerID       int64 `json:"answerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionNumber == 0 || req.AnswerID == 0 {
		writeError(w, http.StatusBadRequest, "questionNumber and answerId are required")
		return
	}

	result, err := h.service.SubmitAnswer(r.Context(), sessionID, token, req.QuestionNumber, req.AnswerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"isCorrect":         result.Correct,
		"correctAnswerId":   result.CorrectAnswerID,
		"correctAnswerText": result.CorrectAnswerText,
	})
}

func (h *Handler) focusSwitch(w http.ResponseWriter, r *http.Request) {
	sessionID, token, ok := h.sessionAuth(w, r)
	if !ok {
		return
	}
	h.service.LogFocusSwitch(r.Context(), sessionID, token)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID         int64  `json:"sessionId"`
		CorrectAnswers    *int   `json:"correctAnswers"`
		WrongAnswers      *int   `json:"wrongAnswers"`
		TopWrongQuestions []struct {
			QuestionID int64 `json:"question_id"`
		} `json:"topWrongQuestions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SessionID == 0 || req.CorrectAnswers == nil || req.WrongAnswers == nil {
		writeError(w, http.StatusBadRequest, "sessionId, correctAnswers and wrongAnswers are required")
		return
	}

	session, err := h.service.End(r.Context(), req.SessionID, *req.CorrectAnswers, *req.WrongAnswers)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	summary := domain.SessionSummary{Session: session}
	for _, q := range req.TopWrongQuestions {
		summary.TopWrong = append(summary.TopWrong, q.QuestionID)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.notifier.SessionFinished(ctx, summary)
	}()

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) sessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := h.service.SessionStats(r.Context(), sessionID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) overallStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Overall(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("notify") == "true" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			h.notifier.OverallStats(ctx, stats)
		}()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"telegram_configured": h.telegramConfigured,
	})
}

// sessionAuth extracts the session id from the path and the token from the
// header. A missing token is 401; token validity is checked by the service.
func (h *Handler) sessionAuth(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	sessionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return 0, "", false
	}
	token := r.Header.Get(tokenHeader)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing session token")
		return 0, "", false
	}
	return sessionID, token, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrSessionClosed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
