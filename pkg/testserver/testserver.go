// Package testserver runs the full HTTP stack on an in-memory database for
// tests of the client and session packages.
package testserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PolyChat/middleware"
	"PolyChat/models"
	"PolyChat/pkg/realtime"
	"PolyChat/pkg/relay"
	svc "PolyChat/pkg/services"
	"PolyChat/routes"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Scripted is a streaming provider that replays fixed deltas. When Err is
// set the deltas are still delivered and then the call fails.
type Scripted struct {
	Deltas []string
	Err    error

	calls atomic.Int32
	mu    sync.Mutex
	last  svc.Request
}

func (p *Scripted) Complete(_ context.Context, req svc.Request) (string, error) {
	p.record(req)
	return strings.Join(p.Deltas, ""), p.Err
}

func (p *Scripted) Stream(_ context.Context, req svc.Request, onDelta func(string)) error {
	p.record(req)
	for _, d := range p.Deltas {
		onDelta(d)
	}
	return p.Err
}

func (p *Scripted) record(req svc.Request) {
	p.calls.Add(1)
	p.mu.Lock()
	p.last = req
	p.mu.Unlock()
}

// Calls is the number of model calls made so far.
func (p *Scripted) Calls() int { return int(p.calls.Load()) }

// LastRequest is the most recent request the provider saw.
func (p *Scripted) LastRequest() svc.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type Server struct {
	*httptest.Server
	Engine *gin.Engine
	DB     *gorm.DB
	Hub    *realtime.Hub
	Relay  *relay.Relay
}

// New starts a server whose adapter serves every catalog model with the
// given providers. Models missing from providers answer with the fallback.
func New(t testing.TB, providers map[string]svc.Provider) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetRateLimitConfig(time.Second, 1000, 8)

	db, err := models.Open("sqlite", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	hub := realtime.NewHub()
	require.NoError(t, realtime.Attach(db, hub))

	r := gin.New()
	r.Use(gin.Recovery())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	storage, err := svc.NewAttachmentStorage(dir, ts.URL, "test-upload-secret")
	require.NoError(t, err)

	rl := relay.New(db, hub)
	routes.RegisterRoutes(r, routes.Deps{
		Relay:     rl,
		Adapter:   svc.NewAdapter(providers),
		Storage:   storage,
		UploadDir: dir,
	})
	return &Server{Server: ts, Engine: r, DB: db, Hub: hub, Relay: rl}
}

// Wrap starts a second listener in front of the same router so a test can
// observe or delay requests.
func (s *Server) Wrap(t testing.TB, mw func(w http.ResponseWriter, r *http.Request, next http.Handler)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw(w, r, s.Engine)
	}))
	t.Cleanup(ts.Close)
	return ts
}
