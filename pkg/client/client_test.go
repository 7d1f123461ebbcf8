package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	svc "PolyChat/pkg/services"
	"PolyChat/pkg/testserver"

	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, providers map[string]svc.Provider) *testserver.Server {
	t.Helper()
	if providers == nil {
		providers = map[string]svc.Provider{}
	}
	return testserver.New(t, providers)
}

func signedUp(t *testing.T, ts *testserver.Server, email string) *Client {
	t.Helper()
	c := New(ts.URL)
	_, err := c.SignUp(context.Background(), email, "secret1", "secret1")
	require.NoError(t, err)
	return c
}

func TestSignUpSignInProfile(t *testing.T) {
	ts := newServer(t, nil)
	ctx := context.Background()

	c := New(ts.URL)
	s, err := c.SignUp(ctx, "  Ann@Example.com ", "secret1", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, s.AccessToken)
	require.Equal(t, "ann@example.com", s.User.Email)
	require.Equal(t, s.AccessToken, c.Token())

	u, err := c.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, s.User.ID, u.ID)

	other := New(ts.URL)
	_, err = other.SignIn(ctx, "ann@example.com", "wrong-pass")
	require.True(t, apperr.Is(err, apperr.AuthFailed), "got %v", err)
	require.Empty(t, other.Token())

	_, err = other.SignIn(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, s.User.ID, other.User().ID)
}

func TestSignUpValidatesLocally(t *testing.T) {
	c := New("http://127.0.0.1:1")
	ctx := context.Background()

	_, err := c.SignUp(ctx, "not-an-email", "secret1", "secret1")
	require.True(t, apperr.Is(err, apperr.Validation))
	_, err = c.SignUp(ctx, "a@example.com", "abc", "abc")
	require.True(t, apperr.Is(err, apperr.Validation))
	_, err = c.SignUp(ctx, "a@example.com", "secret1", "secret2")
	require.True(t, apperr.Is(err, apperr.Validation))
}

func TestSignUpDuplicateEmail(t *testing.T) {
	ts := newServer(t, nil)
	signedUp(t, ts, "dup@example.com")

	_, err := New(ts.URL).SignUp(context.Background(), "dup@example.com", "secret1", "secret1")
	require.Error(t, err)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestSignInCoalescesConcurrentCalls(t *testing.T) {
	ts := newServer(t, nil)
	signedUp(t, ts, "co@example.com")

	var logins atomic.Int32
	proxy := ts.Wrap(t, func(w http.ResponseWriter, r *http.Request, next http.Handler) {
		if r.URL.Path == "/login" {
			logins.Add(1)
			time.Sleep(200 * time.Millisecond)
		}
		next.ServeHTTP(w, r)
	})

	c := New(proxy.URL)
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.SignIn(context.Background(), "co@example.com", "secret1")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), logins.Load())
	require.NotEmpty(t, c.Token())
}

func TestSignInTimesOutButSessionStillLands(t *testing.T) {
	ts := newServer(t, nil)
	signedUp(t, ts, "slow@example.com")

	release := make(chan struct{})
	proxy := ts.Wrap(t, func(w http.ResponseWriter, r *http.Request, next http.Handler) {
		if r.URL.Path == "/login" {
			<-release
		}
		next.ServeHTTP(w, r)
	})

	c := New(proxy.URL, WithAuthTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.SignIn(context.Background(), "slow@example.com", "secret1")
	require.True(t, apperr.Is(err, apperr.Timeout), "got %v", err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Empty(t, c.Token())

	close(release)
	require.Eventually(t, func() bool { return c.Token() != "" }, 2*time.Second, 10*time.Millisecond)
}

func TestRequiresSessionLocally(t *testing.T) {
	c := New("http://127.0.0.1:1")
	ctx := context.Background()

	_, err := c.ListConversations(ctx)
	require.True(t, apperr.Is(err, apperr.AuthRequired))
	_, err = c.Stream(ctx, "x", "hi", "")
	require.True(t, apperr.Is(err, apperr.AuthRequired))
	require.NoError(t, c.SignOut(ctx))
}

func TestSignOutRevokesToken(t *testing.T) {
	ts := newServer(t, nil)
	ctx := context.Background()
	c := signedUp(t, ts, "out@example.com")
	tok, user := c.Token(), c.User()

	require.NoError(t, c.SignOut(ctx))
	require.Empty(t, c.Token())
	require.Nil(t, c.User())

	c.setSession(tok, user)
	_, err := c.ListConversations(ctx)
	require.True(t, apperr.Is(err, apperr.AuthRequired), "got %v", err)
}

func TestConversationLifecycle(t *testing.T) {
	ts := newServer(t, nil)
	ctx := context.Background()
	c := signedUp(t, ts, "life@example.com")

	catalog, def, err := c.Models(ctx)
	require.NoError(t, err)
	require.Equal(t, models.DefaultModel, def)
	require.Len(t, catalog, len(models.Catalog()))

	conv, err := c.CreateConversation(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, models.DefaultConversationTitle, conv.Title)
	require.Equal(t, models.DefaultModel, conv.Model)

	_, err = c.CreateConversation(ctx, "x", "no-such-model")
	require.True(t, apperr.Is(err, apperr.Validation))

	msg, err := c.SendMessage(ctx, conv.ID, "What is Go?", models.RoleUser, nil)
	require.NoError(t, err)
	require.Equal(t, models.RoleUser, msg.Role)

	_, err = c.SendMessage(ctx, conv.ID, "What is Go?", models.RoleUser, nil)
	require.ErrorIs(t, err, apperr.ErrConflict)

	got, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "What is Go?", got.Title)
	require.Equal(t, "What is Go?", got.LastMessage)

	title, model := "Go questions", "deepseek-chat"
	updated, err := c.UpdateConversation(ctx, conv.ID, &title, &model)
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)
	require.Equal(t, model, updated.Model)

	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	list, err := c.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	stranger := signedUp(t, ts, "stranger@example.com")
	_, err = stranger.GetConversation(ctx, conv.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, c.DeleteConversation(ctx, conv.ID))
	_, err = c.GetConversation(ctx, conv.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStreamDeliversSnapshotsAndStoredMessage(t *testing.T) {
	p := &testserver.Scripted{Deltas: []string{"Hi", " there"}}
	ts := newServer(t, map[string]svc.Provider{models.DefaultModel: p})
	ctx := context.Background()
	c := signedUp(t, ts, "stream@example.com")

	conv, err := c.CreateConversation(ctx, "", "")
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, conv.ID, "Say hi", models.RoleUser, nil)
	require.NoError(t, err)

	s, err := c.Stream(ctx, conv.ID, "Say hi", "")
	require.NoError(t, err)
	var contents []string
	var last svc.Snapshot
	for snap := range s.Snapshots() {
		contents = append(contents, snap.Content)
		last = snap
	}
	require.NoError(t, s.Err())
	require.Equal(t, []string{"Hi", "Hi there", "Hi there"}, contents)
	require.True(t, last.Done)
	require.Empty(t, last.Error)

	stored := s.Message()
	require.NotNil(t, stored)
	require.Equal(t, models.RoleAssistant, stored.Role)
	require.Equal(t, "Hi there", stored.Content)

	// the prompt was already stored, so it is not repeated in history
	require.Empty(t, p.LastRequest().History)
	require.Equal(t, "Say hi", p.LastRequest().Prompt)
}

func TestCompleteReturnsFallbackOnProviderError(t *testing.T) {
	p := &testserver.Scripted{Err: errors.New("upstream exploded")}
	ts := newServer(t, map[string]svc.Provider{models.DefaultModel: p})
	ctx := context.Background()
	c := signedUp(t, ts, "fail@example.com")

	conv, err := c.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	res, err := c.Complete(ctx, conv.ID, "anything", "")
	require.NoError(t, err)
	require.Equal(t, svc.FallbackMessage, res.Content)
	require.Contains(t, res.Error, "upstream exploded")
	require.NotNil(t, res.Message)
	require.Equal(t, svc.FallbackMessage, res.Message.Content)

	s, err := c.Stream(ctx, conv.ID, "again", "")
	require.NoError(t, err)
	last, err := s.Collect()
	require.NoError(t, err)
	require.True(t, last.Done)
	require.Equal(t, svc.FallbackMessage, last.Content)
	require.NotEmpty(t, last.Error)
}

func TestStreamUnknownConversation(t *testing.T) {
	ts := newServer(t, nil)
	c := signedUp(t, ts, "nf@example.com")
	_, err := c.Stream(context.Background(), "missing", "hi", "")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSubscribeReceivesInsertedMessages(t *testing.T) {
	ts := newServer(t, nil)
	ctx := context.Background()
	c := signedUp(t, ts, "ws@example.com")
	conv, err := c.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	stop, done, err := c.Subscribe(ctx, conv.ID, func(m models.Message) {
		mu.Lock()
		got = append(got, m.Content)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = c.SendMessage(ctx, conv.ID, "ping", models.RoleUser, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "ping"
	}, 2*time.Second, 10*time.Millisecond)

	stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}

	stranger := signedUp(t, ts, "ws-stranger@example.com")
	_, _, err = stranger.Subscribe(ctx, conv.ID, func(models.Message) {})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUploadAttachment(t *testing.T) {
	ts := newServer(t, nil)
	ctx := context.Background()
	c := signedUp(t, ts, "up@example.com")

	res, err := c.UploadAttachment(ctx, "notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(5), res.FileSize)
	require.True(t, strings.HasPrefix(res.FileURL, ts.URL+"/uploads/files/"))

	resp, err := http.Get(res.FileURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = c.UploadAttachment(ctx, "run.exe", strings.NewReader("MZ"))
	require.True(t, apperr.Is(err, apperr.Validation), "got %v", err)
}
