package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ezhao816/chatrelay/config"
	"github.com/ezhao816/chatrelay/domain"
	"github.com/ezhao816/chatrelay/lifecycle"
	"github.com/ezhao816/chatrelay/provider"
	"github.com/ezhao816/chatrelay/relay"
	"github.com/ezhao816/chatrelay/tests/helpers"
)

func newTestHandler(t *testing.T, p provider.Provider) *Handler {
	t.Helper()
	cfg := &config.Config{
		MaxMessageChars: 10000,
		ResolveAttempts: 3,
		ResolveDelay:    time.Millisecond,
		VerifyAttempts:  5,
		VerifyBaseDelay: time.Millisecond,
		VerifyMaxDelay:  2 * time.Millisecond,
		VerifyReadDelay: time.Millisecond,
	}
	s := helpers.NewTestSQLiteStore(t)
	lc := lifecycle.New(s, cfg)
	r := relay.New(lc, p, cfg)
	return NewHandler(s, lc, r, cfg)
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v\n%s", err, rec.Body.String())
	}
	return env
}

func postJSON(t *testing.T, e *echo.Echo, path, body string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return rec, e.NewContext(req, rec)
}

func TestCreateSession(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	rec, c := postJSON(t, e, "/sessions", `{"title":"My chat","firstMessage":{"id":"m1","role":"user","content":"hello"}}`)
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success envelope: %s", rec.Body.String())
	}
	var session domain.Session
	if err := json.Unmarshal(env.Data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if !strings.HasPrefix(session.ID, "sess_") || session.Title != "My chat" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if len(session.Messages) != 1 || session.Messages[0].Content != "hello" {
		t.Fatalf("seed message missing: %+v", session.Messages)
	}
}

func TestCreateSessionGeneratesSeedMessageID(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	rec, c := postJSON(t, e, "/sessions", `{"title":"My chat","firstMessage":{"role":"user","content":"hello"}}`)
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var session domain.Session
	if err := json.Unmarshal(env.Data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(session.Messages) != 1 || !strings.HasPrefix(session.Messages[0].ID, "msg_") {
		t.Fatalf("seed message id not generated: %+v", session.Messages)
	}
}

func TestCreateSessionTitleValidation(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	for name, body := range map[string]string{
		"empty title": `{"title":""}`,
		"long title":  `{"title":"` + strings.Repeat("x", 201) + `"}`,
	} {
		rec, c := postJSON(t, e, "/sessions", body)
		if err := h.CreateSession(c); err != nil {
			t.Fatalf("%s: handler error: %v", name, err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		env := decodeEnvelope(t, rec)
		if env.Success || env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
			t.Fatalf("%s: unexpected envelope: %s", name, rec.Body.String())
		}
	}
}

func TestGetSessionNotFound(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess_ghost", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("sess_ghost")

	if err := h.GetSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestUpdateSessionReplacesMessages(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	created, err := h.store.Create(context.Background(), "Chat", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	body := `{"messages":[
		{"id":"m1","role":"user","content":"What is 2+2?"},
		{"id":"m2","role":"assistant","content":"4"}
	]}`
	req := httptest.NewRequest(http.MethodPatch, "/sessions/"+created.ID, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)

	if err := h.UpdateSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var session domain.Session
	if err := json.Unmarshal(env.Data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(session.Messages) != 2 || session.Messages[1].Content != "4" {
		t.Fatalf("unexpected messages: %+v", session.Messages)
	}
	if !session.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updatedAt did not advance: %v -> %v", created.UpdatedAt, session.UpdatedAt)
	}
}

func TestDeleteSession(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	created, err := h.store.Create(context.Background(), "Doomed", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)

	if err := h.DeleteSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.DeleteSession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestListSessionsOrdered(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	first, err := h.store.Create(context.Background(), "First", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := h.store.Create(context.Background(), "Second", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	title := "First (touched)"
	if _, err := h.store.Update(context.Background(), first.ID, domain.SessionUpdate{Title: &title}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	if err := h.ListSessions(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	env := decodeEnvelope(t, rec)
	var sessions []domain.Session
	if err := json.Unmarshal(env.Data, &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != first.ID {
		t.Fatalf("unexpected order: %+v", sessions)
	}
}

func TestVerifySession(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, provider.NewScriptedProvider())

	created, err := h.store.Create(context.Background(), "Verified", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec, c := postJSON(t, e, "/sessions/verify", `{"sessionId":"`+created.ID+`"}`)
	if err := h.VerifySession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	env := decodeEnvelope(t, rec)
	var result domain.VerifyResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Exists || result.Session == nil || result.TotalSessions != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	rec, c = postJSON(t, e, "/sessions/verify", `{"sessionId":"sess_ghost"}`)
	if err := h.VerifySession(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	env = decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Exists || result.Session != nil || result.TotalSessions != 1 {
		t.Fatalf("unexpected result for missing session: %+v", result)
	}
}
