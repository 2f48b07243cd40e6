package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mbecker/potline/internal/capture"
	"github.com/mbecker/potline/internal/notifications"
	"github.com/mbecker/potline/internal/pipeline"
	"github.com/mbecker/potline/internal/session"
	"github.com/mbecker/potline/internal/store"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// DefaultMode is used when a start request does not name a recording mode.
	DefaultMode session.Mode
}

// Deps are the long-lived collaborators the router dispatches into. Bridge
// is nil when audio is captured from a local device instead of a client
// websocket feed.
type Deps struct {
	Store   *store.Store
	Discord *notifications.Discord
	APNs    *notifications.APNsClient
	Session *session.Controller
	Queue   *pipeline.Queue
	Sink    *pipeline.Sink
	Bridge  *capture.Bridge
	Feeds   *FeedRegistry
}

type Router struct {
	cfg     RouterConfig
	logger  *log.Logger
	store   *store.Store
	discord *notifications.Discord
	apns    *notifications.APNsClient
	session *session.Controller
	queue   *pipeline.Queue
	sink    *pipeline.Sink
	bridge  *capture.Bridge
	feeds   *FeedRegistry
	mux     *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, d Deps) http.Handler {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = session.ModeSingle
	}

	r := &Router{
		cfg:     cfg,
		logger:  logger,
		store:   d.Store,
		discord: d.Discord,
		apns:    d.APNs,
		session: d.Session,
		queue:   d.Queue,
		sink:    d.Sink,
		bridge:  d.Bridge,
		feeds:   d.Feeds,
		mux:     http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Auth endpoints (public)
	r.mux.HandleFunc("POST /auth/register", r.handleRegister)
	r.mux.HandleFunc("POST /auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /auth/refresh", r.handleRefreshToken)
	r.mux.HandleFunc("POST /auth/logout", r.withAuth(r.handleLogout))

	// Account
	r.mux.HandleFunc("GET /api/me", r.withAuth(r.handleGetMe))
	r.mux.HandleFunc("PATCH /api/me", r.withAuth(r.handleUpdateMe))

	// Recording session control
	r.mux.HandleFunc("POST /api/recording/start", r.withAuth(r.handleRecordingStart))
	r.mux.HandleFunc("POST /api/recording/mark", r.withAuth(r.handleRecordingMark))
	r.mux.HandleFunc("POST /api/recording/stop", r.withAuth(r.handleRecordingStop))
	r.mux.HandleFunc("POST /api/recording/cancel", r.withAuth(r.handleRecordingCancel))
	r.mux.HandleFunc("GET /api/recording", r.withAuth(r.handleRecordingStatus))

	// Processed hands
	r.mux.HandleFunc("GET /api/hands", r.withAuth(r.handleListHands))
	r.mux.HandleFunc("GET /api/hands/{id}", r.withAuth(r.handleGetHand))
	r.mux.HandleFunc("PATCH /api/hands/{id}", r.withAuth(r.handleRenameHand))
	r.mux.HandleFunc("DELETE /api/hands/{id}", r.withAuth(r.handleDeleteHand))

	// Game settings
	r.mux.HandleFunc("GET /api/settings", r.withAuth(r.handleGetSettings))
	r.mux.HandleFunc("PUT /api/settings", r.withAuth(r.handleUpdateSettings))

	// Push notifications (protected)
	r.mux.HandleFunc("POST /api/push/register", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("POST /api/push/unregister", r.withAuth(r.handlePushUnregister))
	r.mux.HandleFunc("POST /api/push/test", r.withAuth(r.handlePushTest))

	// Client microphone feed (websocket)
	r.mux.HandleFunc("GET /audio", r.withAuth(r.handleAudioWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports 503 once draining starts so the load balancer stops
// routing new audio clients here during shutdown.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.feeds != nil && r.feeds.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
