package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/nyaya/internal/config"
	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/pipeline"
	"github.com/hyperjump/nyaya/internal/session"
)

type mockEngine struct {
	resp     models.LegalResponse
	lastQ    models.Query
	sessions map[string][]models.Turn
	report   pipeline.HealthReport
}

func newMockEngine() *mockEngine {
	return &mockEngine{sessions: map[string][]models.Turn{}}
}

func (m *mockEngine) Answer(_ context.Context, q models.Query) models.LegalResponse {
	m.lastQ = q
	return m.resp
}

func (m *mockEngine) StartSession(_ context.Context, lang string) (string, error) {
	if lang == "fail" {
		return "", errors.New("store down")
	}
	id := "s-" + lang
	m.sessions[id] = nil
	return id, nil
}

func (m *mockEngine) EndSession(_ context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *mockEngine) History(_ context.Context, id string) ([]models.Turn, error) {
	turns, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrExpired
	}
	return turns, nil
}

func (m *mockEngine) Health() pipeline.HealthReport { return m.report }

func newTestServer(e Engine) http.Handler {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("nyaya_requests_total 1\n"))
	})
	return NewServer(e, metrics, &config.ServerConfig{Port: 8080}, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleAnswer_Text(t *testing.T) {
	e := newMockEngine()
	e.resp = models.LegalResponse{Kind: models.KindAnswer, Answer: "Thirty days [1].", Language: "en"}
	h := newTestServer(e)

	w := do(t, h, http.MethodPost, "/api/v1/answer", `{"text":"notice period?","language":"en","session_id":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if e.lastQ.Modality != models.ModalityText || e.lastQ.Text != "notice period?" || e.lastQ.SessionID != "s1" {
		t.Errorf("query: got %+v", e.lastQ)
	}
	var out models.LegalResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Kind != models.KindAnswer || out.Answer != "Thirty days [1]." {
		t.Errorf("response: got %+v", out)
	}
}

func TestHandleAnswer_VoiceAudio(t *testing.T) {
	e := newMockEngine()
	e.resp = models.LegalResponse{Kind: models.KindAnswer}
	h := newTestServer(e)

	// "aGVsbG8=" is base64 for "hello".
	w := do(t, h, http.MethodPost, "/api/v1/answer", `{"audio":"aGVsbG8=","language":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !e.lastQ.IsVoice() || string(e.lastQ.Audio) != "hello" {
		t.Errorf("voice query: got %+v", e.lastQ)
	}
}

func TestHandleAnswer_StatusMapping(t *testing.T) {
	tests := []struct {
		resp       models.LegalResponse
		wantStatus int
		wantRetry  string
	}{
		{models.LegalResponse{Kind: models.KindBusy, RetryAfterSeconds: 3}, http.StatusTooManyRequests, "3"},
		{models.LegalResponse{Kind: models.KindUnavailable}, http.StatusServiceUnavailable, ""},
		{models.LegalResponse{Kind: models.KindKnowledgeGap}, http.StatusOK, ""},
		{models.LegalResponse{Kind: models.KindClarification}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		e := newMockEngine()
		e.resp = tt.resp
		w := do(t, newTestServer(e), http.MethodPost, "/api/v1/answer", `{"text":"q"}`)
		if w.Code != tt.wantStatus {
			t.Errorf("%s: status got %d want %d", tt.resp.Kind, w.Code, tt.wantStatus)
		}
		if got := w.Header().Get("Retry-After"); got != tt.wantRetry {
			t.Errorf("%s: Retry-After got %q want %q", tt.resp.Kind, got, tt.wantRetry)
		}
	}
}

func TestHandleAnswer_InvalidBody(t *testing.T) {
	w := do(t, newTestServer(newMockEngine()), http.MethodPost, "/api/v1/answer", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newMockEngine()
	h := newTestServer(e)

	w := do(t, h, http.MethodPost, "/api/v1/sessions", `{"language":"en"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status: got %d", w.Code)
	}
	var started map[string]string
	if err := json.NewDecoder(w.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	id := started["session_id"]
	if id != "s-en" {
		t.Fatalf("session_id: got %q", id)
	}

	w = do(t, h, http.MethodGet, "/api/v1/sessions/"+id+"/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"turns":[]`) {
		t.Errorf("history body: got %s", w.Body.String())
	}

	w = do(t, h, http.MethodDelete, "/api/v1/sessions/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("end status: got %d", w.Code)
	}
	w = do(t, h, http.MethodDelete, "/api/v1/sessions/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second end status: got %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/sessions/"+id+"/history", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("history after end status: got %d", w.Code)
	}
}

func TestHandleStartSession_EmptyBodyAndFailure(t *testing.T) {
	h := newTestServer(newMockEngine())
	if w := do(t, h, http.MethodPost, "/api/v1/sessions", ""); w.Code != http.StatusCreated {
		t.Errorf("empty body status: got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/sessions", `{"language":"fail"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("failure status: got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	e := newMockEngine()
	e.report = pipeline.HealthReport{
		Tier: models.TierCore,
		Services: health.Snapshot{
			health.ServiceTranslation: {Service: health.ServiceTranslation, State: health.StateDown},
		},
		Queued: 2,
	}
	w := do(t, newTestServer(e), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Status string      `json:"status"`
		Tier   models.Tier `json:"tier"`
		Queued int         `json:"queued"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "degraded" || out.Tier != models.TierCore || out.Queued != 2 {
		t.Errorf("health: got %+v", out)
	}
}

func TestMetricsMounted(t *testing.T) {
	w := do(t, newTestServer(newMockEngine()), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "nyaya_requests_total") {
		t.Errorf("metrics: got %d %s", w.Code, w.Body.String())
	}
}
