package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exam-trainer-service/internal/app"
	"exam-trainer-service/internal/domain"
	"exam-trainer-service/internal/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "a81bc81b-dead-4e5d-abff-90865d1e13b1"

type capturingNotifier struct {
	sessions chan domain.SessionSummary
	stats    chan domain.OverallStats
}

func newCapturingNotifier() *capturingNotifier {
	return &capturingNotifier{
		sessions: make(chan domain.SessionSummary, 1),
		stats:    make(chan domain.OverallStats, 1),
	}
}

func (n *capturingNotifier) SessionFinished(_ context.Context, s domain.SessionSummary) {
	n.sessions <- s
}

func (n *capturingNotifier) OverallStats(_ context.Context, s domain.OverallStats) {
	n.stats <- s
}

func newTestMux(t *testing.T) (*http.ServeMux, *capturingNotifier) {
	t.Helper()

	records := []domain.QuestionRecord{}
	for i := int64(1); i <= 3; i++ {
		records = append(records, domain.QuestionRecord{
			Question: domain.Question{
				ID:   i,
				Text: "Pick the right one",
				Answers: []domain.AnswerOption{
					{ID: 1, Text: "Wrong"},
					{ID: 2, Text: "Right"},
				},
			},
			CorrectAnswerID:   2,
			CorrectAnswerText: "Right",
		})
	}

	store := memory.NewStore()
	catalog := memory.NewStaticCatalog(records)
	service := app.NewSessionService(store, store, catalog, 45, nil)
	notifier := newCapturingNotifier()

	mux := http.NewServeMux()
	NewHandler(service, store, notifier, false, nil).Register(mux)
	return mux, notifier
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	decoded := map[string]json.RawMessage{}
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func startSession(t *testing.T, mux *http.ServeMux, mode string) (int64, string) {
	t.Helper()
	rec, body := doJSON(t, mux, http.MethodPost, "/api/session-start", "", map[string]string{
		"userUuid": testUser,
		"mode":     mode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var id int64
	var token string
	require.NoError(t, json.Unmarshal(body["sessionId"], &id))
	require.NoError(t, json.Unmarshal(body["sessionToken"], &token))
	return id, token
}

func TestStartSessionValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	rec, _ := doJSON(t, mux, http.MethodPost, "/api/session-start", "", map[string]string{"userUuid": testUser})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodPost, "/api/session-start", "", map[string]string{
		"userUuid": testUser,
		"mode":     "marathon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuizFlowOverHTTP(t *testing.T) {
	mux, notifier := newTestMux(t)
	sessionID, token := startSession(t, mux, "training")

	for i := 1; i <= 3; i++ {
		rec, body := doJSON(t, mux, http.MethodGet, "/api/session/1/next", token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var index int
		require.NoError(t, json.Unmarshal(body["questionIndex"], &index))
		assert.Equal(t, i, index)

		var question struct {
			ID      int64 `json:"question_number"`
			Answers []struct {
				ID int64 `json:"id"`
			} `json:"answers"`
		}
		require.NoError(t, json.Unmarshal(body["question"], &question))
		assert.NotContains(t, string(body["question"]), "correct")

		rec, body = doJSON(t, mux, http.MethodPost, "/api/session/1/submit-answer", token, map[string]int64{
			"questionNumber": question.ID,
			"answerId":       1, // always wrong
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, "false", string(body["isCorrect"]))
		assert.JSONEq(t, "2", string(body["correctAnswerId"]))
	}

	rec, body := doJSON(t, mux, http.MethodGet, "/api/session/1/next", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "true", string(body["completed"]))

	rec, _ = doJSON(t, mux, http.MethodPost, "/api/session-end", "", map[string]interface{}{
		"sessionId":      sessionID,
		"correctAnswers": 0,
		"wrongAnswers":   3,
		"topWrongQuestions": []map[string]int64{
			{"question_id": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case summary := <-notifier.sessions:
		assert.Equal(t, sessionID, summary.Session.ID)
		assert.Equal(t, 3, summary.Session.Wrong)
		assert.Equal(t, []int64{1}, summary.TopWrong)
	case <-time.After(time.Second):
		t.Fatal("notifier was not invoked")
	}

	// The closed session rejects further quiz operations.
	rec, _ = doJSON(t, mux, http.MethodGet, "/api/session/1/next", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenHandling(t *testing.T) {
	mux, _ := newTestMux(t)
	startSession(t, mux, "training")

	rec, _ := doJSON(t, mux, http.MethodGet, "/api/session/1/next", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodGet, "/api/session/1/next", "bogus", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitErrors(t *testing.T) {
	mux, _ := newTestMux(t)
	_, token := startSession(t, mux, "training")

	rec, _ := doJSON(t, mux, http.MethodPost, "/api/session/1/submit-answer", token, map[string]int64{
		"questionNumber": 999,
		"answerId":       1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodPost, "/api/session/1/submit-answer", token, map[string]int64{
		"questionNumber": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// First submit succeeds, the duplicate conflicts.
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/session/1/submit-answer", token, map[string]int64{
		"questionNumber": 1,
		"answerId":       2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/session/1/submit-answer", token, map[string]int64{
		"questionNumber": 1,
		"answerId":       2,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFocusSwitchAlwaysSucceeds(t *testing.T) {
	mux, _ := newTestMux(t)
	_, token := startSession(t, mux, "training")

	rec, body := doJSON(t, mux, http.MethodPost, "/api/session/1/focus-switch", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "true", string(body["success"]))

	// Wrong token is still a 200: the counter is best-effort telemetry.
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/session/1/focus-switch", "bogus", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionStatsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)
	startSession(t, mux, "training")

	rec, body := doJSON(t, mux, http.MethodGet, "/api/stats/session/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token")
	var userUUID string
	require.NoError(t, json.Unmarshal(body["user_uuid"], &userUUID))
	assert.Equal(t, testUser, userUUID)

	rec, _ = doJSON(t, mux, http.MethodGet, "/api/stats/session/42", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOverallStatsNotify(t *testing.T) {
	mux, notifier := newTestMux(t)
	startSession(t, mux, "training")

	rec, body := doJSON(t, mux, http.MethodGet, "/api/stats?notify=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "1", string(body["totalSessions"]))

	select {
	case stats := <-notifier.stats:
		assert.Equal(t, int64(1), stats.TotalSessions)
	case <-time.After(time.Second):
		t.Fatal("notifier was not invoked")
	}
}

func TestHealth(t *testing.T) {
	mux, _ := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"ok"`, string(body["status"]))
	assert.JSONEq(t, "false", string(body["telegram_configured"]))
}
