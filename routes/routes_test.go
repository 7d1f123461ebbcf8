package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PolyChat/models"
	"PolyChat/pkg/config"
	svc "PolyChat/pkg/services"
	"PolyChat/pkg/testserver"

	"github.com/stretchr/testify/require"
)

type harness struct {
	t  *testing.T
	ts *testserver.Server
}

func newHarness(t *testing.T, providers map[string]svc.Provider) *harness {
	if providers == nil {
		providers = map[string]svc.Provider{}
	}
	return &harness{t: t, ts: testserver.New(t, providers)}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ts.Engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (h *harness) login(email string) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/register", "", map[string]string{
		"email": email, "password": "secret1", "confirm_password": "secret1",
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	w = h.do(http.MethodPost, "/login", "", map[string]string{"email": email, "password": "secret1"})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return decode[struct {
		AccessToken string `json:"access_token"`
	}](h.t, w).AccessToken
}

type errBody struct {
	Msg  string `json:"msg"`
	Code string `json:"code"`
}

func TestHealthAndModels(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/", "", nil).Code)

	w := h.do(http.MethodGet, "/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Models  []models.ModelDescriptor `json:"models"`
		Default string                   `json:"default"`
	}](t, w)
	require.Equal(t, models.DefaultModel, body.Default)
	require.NotEmpty(t, body.Models)
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/register", "", map[string]string{
		"email": "a@example.com", "password": "abc", "confirm_password": "abc",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", decode[errBody](t, w).Code)

	h.login("a@example.com")
	w = h.do(http.MethodPost, "/register", "", map[string]string{
		"email": "A@example.com", "password": "secret1", "confirm_password": "secret1",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "AUTH_FAILED", decode[errBody](t, w).Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodGet, "/conversations", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "AUTH_REQUIRED", decode[errBody](t, w).Code)

	w = h.do(http.MethodGet, "/conversations", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.login("out@example.com")

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/profile", tok, nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/logout", tok, nil).Code)

	w := h.do(http.MethodGet, "/profile", tok, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, decode[errBody](t, w).Msg, "revoked")
}

func TestProfileUpdate(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.login("p@example.com")

	w := h.do(http.MethodPut, "/profile", tok, map[string]string{"email": "new@example.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/login", "", map[string]string{"email": "new@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestConversationRoutes(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.login("c@example.com")

	w := h.do(http.MethodPost, "/conversations", tok, map[string]string{"title": "New Chat", "model": "gpt-3.5-turbo"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conv := decode[models.Conversation](t, w)

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", tok, map[string]string{"content": "Hello", "role": "user"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", tok, map[string]string{"content": "Hello", "role": "user"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", tok, map[string]string{"content": "x", "role": "system"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/conversations/"+conv.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Conversation](t, w)
	require.Equal(t, "Hello", got.Title)
	require.Equal(t, "Hello", got.LastMessage)

	w = h.do(http.MethodGet, "/conversations/"+conv.ID+"/messages", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, w).Messages
	require.Len(t, msgs, 1)
	require.Equal(t, "Hello", msgs[len(msgs)-1].Content)

	other := h.login("other@example.com")
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/conversations/"+conv.ID, other, nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/conversations/"+conv.ID, other, nil).Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/conversations/"+conv.ID, tok, nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/conversations/"+conv.ID+"/messages", tok, nil).Code)
}

func TestCompletionSSE(t *testing.T) {
	p := &testserver.Scripted{Deltas: []string{"Hi", " there"}}
	h := newHarness(t, map[string]svc.Provider{models.DefaultModel: p})
	tok := h.login("sse@example.com")

	w := h.do(http.MethodPost, "/conversations", tok, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conv := decode[models.Conversation](t, w)

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/completions", tok, map[string]any{"prompt": "hi", "stream": true})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	require.Equal(t, 3, strings.Count(body, "event:snapshot"))
	require.Equal(t, 1, strings.Count(body, "event:message"))
	require.Contains(t, body, `"content":"Hi there","done":true`)

	w = h.do(http.MethodGet, "/conversations/"+conv.ID+"/messages", tok, nil)
	msgs := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, w).Messages
	require.Len(t, msgs, 1)
	require.Equal(t, models.RoleAssistant, msgs[0].Role)
	require.Equal(t, "Hi there", msgs[0].Content)

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/completions", tok, map[string]any{"prompt": "hi", "model": "gpt-99"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/completions", tok, map[string]any{"prompt": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectedSendCanBeRetried(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.login("retry@example.com")

	w := h.do(http.MethodPost, "/conversations", tok, map[string]string{"model": "gpt-3.5-turbo"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conv := decode[models.Conversation](t, w)

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", tok, map[string]any{
		"content": "Hello", "role": "user", "file_url": "http://127.0.0.1/uploads/files/a.png",
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", tok, map[string]string{"content": "Hello", "role": "user"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/conversations/"+conv.ID+"/messages", tok, nil)
	msgs := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, w).Messages
	require.Len(t, msgs, 1)
}

// stalled sends one delta and then never finishes on its own.
type stalled struct{}

func (stalled) Complete(ctx context.Context, _ svc.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stalled) Stream(ctx context.Context, _ svc.Request, onDelta func(string)) error {
	onDelta("partial")
	<-ctx.Done()
	return ctx.Err()
}

func TestCompletionTimeoutEndsWithFallback(t *testing.T) {
	prev := config.CompletionTimeoutSeconds
	config.CompletionTimeoutSeconds = 1
	defer func() { config.CompletionTimeoutSeconds = prev }()

	h := newHarness(t, map[string]svc.Provider{models.DefaultModel: stalled{}})
	tok := h.login("slow@example.com")
	w := h.do(http.MethodPost, "/conversations", tok, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conv := decode[models.Conversation](t, w)

	w = h.do(http.MethodPost, "/conversations/"+conv.ID+"/completions", tok, map[string]any{"prompt": "hi", "stream": true})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Equal(t, 1, strings.Count(body, `"done":true`), body)
	require.Contains(t, body, context.DeadlineExceeded.Error())
	require.Equal(t, 1, strings.Count(body, "event:message"))

	w = h.do(http.MethodGet, "/conversations/"+conv.ID+"/messages", tok, nil)
	msgs := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, w).Messages
	require.Len(t, msgs, 1)
	require.Equal(t, svc.FallbackMessage, msgs[0].Content)
}

func TestUploadRejectsForeignToken(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.login("alice@example.com")
	bob := h.login("bob@example.com")

	w := h.do(http.MethodGet, "/uploads/token", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tok := decode[svc.UploadTokenResponse](t, w).UploadToken

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("upload_token", tok))
	fw, err := mw.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("hi"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bob)
	rec := httptest.NewRecorder()
	h.ts.Engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
