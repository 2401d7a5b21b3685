package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FlowDeckHQ/FlowDeck/internal/flow"
	"github.com/FlowDeckHQ/FlowDeck/internal/models"
	"github.com/FlowDeckHQ/FlowDeck/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st)
	return NewServer(engine, st), st
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getPath(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func seedFlow(t *testing.T, st store.Store) {
	t.Helper()
	if err := st.SaveFlow(models.Flow{ID: "f1", Name: "onboarding", Active: true}); err != nil {
		t.Fatalf("SaveFlow: %v", err)
	}
	if err := st.SaveSteps("f1", []models.Step{
		{FlowID: "f1", Order: 0, Kind: models.StepKindText, Body: "Olá"},
		{FlowID: "f1", Order: 1, Kind: models.StepKindButtons, Body: "Pronto?",
			Choices: []models.Choice{{Label: "Sim", Value: "yes"}}},
	}); err != nil {
		t.Fatalf("SaveSteps: %v", err)
	}
}

func TestSaveAndGetFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	w := postJSON(t, handler, "/v1/flows", map[string]interface{}{
		"flow": map[string]interface{}{"id": "f1", "name": "onboarding", "active": true},
		"steps": []map[string]interface{}{
			{"kind": "text", "body": "Olá"},
			{"kind": "free-input", "body": "Nome?", "variable_name": "name"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save flow status = %d, body = %s", w.Code, w.Body.String())
	}

	w = getPath(handler, "/v1/flows/f1")
	if w.Code != http.StatusOK {
		t.Fatalf("get flow status = %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("response status = %q", resp.Status)
	}
}

func TestSaveFlowRejectsInvalidStep(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postJSON(t, srv.Handler(), "/v1/flows", map[string]interface{}{
		"flow":  map[string]interface{}{"id": "f1"},
		"steps": []map[string]interface{}{{"kind": "text"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetFlowNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := getPath(srv.Handler(), "/v1/flows/missing"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStartFlow(t *testing.T) {
	srv, st := newTestServer(t)
	seedFlow(t, st)

	w := postJSON(t, srv.Handler(), "/v1/flow/start", models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status string      `json:"status"`
		Result flow.Result `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result.Updates) != 2 {
		t.Errorf("updates = %d, want 2", len(resp.Result.Updates))
	}
	if !resp.Result.Updates[1].Suspended {
		t.Error("second update must be suspended")
	}
}

func TestStartFlowNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := postJSON(t, srv.Handler(), "/v1/flow/start", models.FlowStartRequest{FlowID: "missing", SessionID: "s1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStartFlowInactive(t *testing.T) {
	srv, st := newTestServer(t)
	if err := st.SaveFlow(models.Flow{ID: "f1", Active: false}); err != nil {
		t.Fatalf("SaveFlow: %v", err)
	}
	w := postJSON(t, srv.Handler(), "/v1/flow/start", models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestStartFlowInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/flow/start", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestEventAdvancesSession(t *testing.T) {
	srv, st := newTestServer(t)
	seedFlow(t, st)
	handler := srv.Handler()

	if w := postJSON(t, handler, "/v1/flow/start", models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}

	w := postJSON(t, handler, "/v1/flow/event", models.FlowEventRequest{
		SessionID: "s1", StepIndex: 1, Kind: models.EventKindButton, Payload: "yes",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("event status = %d, body = %s", w.Code, w.Body.String())
	}

	sess, _ := st.GetSession("s1")
	if sess.Status != models.SessionStatusCompleted {
		t.Errorf("session status = %q, want completed", sess.Status)
	}
}

func TestEventUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	w := postJSON(t, srv.Handler(), "/v1/flow/event", models.FlowEventRequest{
		SessionID: "missing", StepIndex: 0, Kind: models.EventKindButton, Payload: "yes",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStaleEventReturnsOK(t *testing.T) {
	srv, st := newTestServer(t)
	seedFlow(t, st)
	handler := srv.Handler()

	if w := postJSON(t, handler, "/v1/flow/start", models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}

	// Event against a step the cursor already passed.
	w := postJSON(t, handler, "/v1/flow/event", models.FlowEventRequest{
		SessionID: "s1", StepIndex: 0, Kind: models.EventKindButton, Payload: "yes",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("stale event status = %d, want 200", w.Code)
	}

	var resp struct {
		Result flow.Result `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result.Updates) != 0 {
		t.Errorf("stale event produced %d updates", len(resp.Result.Updates))
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	seedFlow(t, st)
	handler := srv.Handler()

	if w := postJSON(t, handler, "/v1/flow/start", models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	if w := postJSON(t, handler, "/v1/flow/event", models.FlowEventRequest{
		SessionID: "s1", StepIndex: 1, Kind: models.EventKindButton, Payload: "yes",
	}); w.Code != http.StatusOK {
		t.Fatalf("event status = %d", w.Code)
	}

	if w := getPath(handler, "/v1/sessions/s1"); w.Code != http.StatusOK {
		t.Errorf("get session status = %d", w.Code)
	}
	w := getPath(handler, "/v1/sessions/s1/interactions")
	if w.Code != http.StatusOK {
		t.Fatalf("get interactions status = %d", w.Code)
	}
	var resp struct {
		Result []models.Interaction `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result) != 2 || resp.Result[1].Payload != "yes" {
		t.Errorf("interactions = %+v", resp.Result)
	}

	if w := getPath(handler, "/v1/sessions/missing"); w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := getPath(srv.Handler(), "/health"); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := getPath(srv.Handler(), "/v1/flow/start"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
