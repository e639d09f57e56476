package http

import (
	"context"
	"encoding/json"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"sync"
	"time"

	"alma/internal/log"
	"alma/internal/middleware/ratelimit"
	"alma/internal/middleware/security"
	"alma/internal/middleware/trace"
	"alma/internal/session"
	"alma/internal/storage"
	"alma/internal/voice"
	appweb "alma/web"
)

// AlertStore is the overseer's view of carer alerts.
type AlertStore interface {
	ListAlerts(ctx context.Context, userIDs []string, limit int, includeAcknowledged bool) ([]storage.Alert, error)
	AcknowledgeAlert(ctx context.Context, userIDs []string, id int64) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the screens use. Alerts and Health
// may be nil.
type Dependencies struct {
	Sessions     *session.Manager
	Library      *voice.Library
	Alerts       AlertStore
	Health       Pinger
	Logger       *log.Logger
	Currency     string
	AudioBaseURL string
}

type Server struct {
	http.Server
	templates   *template.Template
	sessions    *session.Manager
	library     *voice.Library
	alerts      AlertStore
	health      Pinger
	logger      *log.Logger
	currency    string
	detector    *security.Detector
	tracer      *trace.Middleware
	limiter     *ratelimit.Limiter
	authLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		sessions:    deps.Sessions,
		library:     deps.Library,
		alerts:      deps.Alerts,
		health:      deps.Health,
		logger:      logger,
		currency:    deps.Currency,
		detector:    security.NewDetector(logger),
		limiter:     ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		authLimiter: ratelimit.NewLimiter(ratelimit.AuthConfig()),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	// Parse embedded templates at startup.
	t, err := template.New("").Funcs(templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", log.FieldError, err)
		t = nil
	}
	s.templates = t

	mux := http.NewServeMux()

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}
	mux.Handle("GET /audio/", security.StaticAssetMiddleware(86400)(http.HandlerFunc(s.handleAudio)))

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	app := http.NewServeMux()
	s.routes(app)
	mux.Handle("/", s.sessions.Middleware(security.NoStore(app)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig().AllowMediaFrom(mediaOrigin(deps.AudioBaseURL)))
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.rateLimited)

	var handler http.Handler = mux
	handler = limited(handler)
	handler = headers.Middleware(handler)
	handler = s.tracer.Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	auth := func(h screenHandler) http.Handler {
		return s.authLimiter.Middleware(s.detector.ExtractClientIP, s.rateLimited)(s.anyone(h))
	}

	mux.Handle("GET /{$}", s.anyone(s.handleAuthScreen))
	mux.Handle("POST /auth/login", auth(s.handleLogin))
	mux.Handle("POST /auth/signup", auth(s.handleSignup))
	mux.Handle("POST /auth/logout", s.anyone(s.handleLogout))

	mux.Handle("GET /link-bank", s.user(s.handleLinkBank))
	mux.Handle("POST /link-bank/start", s.user(s.handleLinkBankStart))
	mux.Handle("GET /link-bank/callback", s.user(s.handleLinkBankCallback))

	mux.Handle("GET /dashboard", s.user(s.handleDashboard))
	mux.Handle("GET /ui/accounts", s.user(s.handleAccountsPartial))
	mux.Handle("GET /accounts/{id}", s.user(s.handleAccountDetail))
	mux.Handle("GET /accounts/{id}/transactions", s.user(s.handleAccountTransactions))

	mux.Handle("GET /cards", s.user(s.handleCards))
	mux.Handle("POST /cards", s.user(s.handleCreateCard))
	mux.Handle("GET /cards/{id}/transactions", s.user(s.handleCardTransactions))
	mux.Handle("POST /cards/{id}/freeze", s.signedIn(s.handleFreezeCard))
	mux.Handle("POST /cards/{id}/unfreeze", s.signedIn(s.handleUnfreezeCard))
	mux.Handle("POST /cards/{id}/limit", s.signedIn(s.handleCardLimit))

	mux.Handle("GET /send", s.user(s.handleSend))
	mux.Handle("POST /send/contact/{id}", s.user(s.handleSelectContact))
	mux.Handle("POST /send/payee/toggle", s.user(s.handleTogglePayee))
	mux.Handle("POST /send/payee/draft", s.user(s.handlePayeeDraft))
	mux.Handle("POST /send/payee", s.user(s.handleSubmitPayee))
	mux.Handle("POST /send/amount/digit", s.user(s.handleDigit))
	mux.Handle("POST /send/amount/delete", s.user(s.handleDeleteDigit))
	mux.Handle("POST /send/amount/confirm", s.user(s.handleConfirmAmount))
	mux.Handle("POST /send/confirm", s.user(s.handleConfirmTransfer))
	mux.Handle("POST /send/back", s.user(s.handleBack))
	mux.Handle("POST /send/exit", s.user(s.handleExit))

	mux.Handle("GET /support", s.user(s.handleSupport))

	mux.Handle("GET /overseer/login", s.anyone(s.handleOverseerLoginScreen))
	mux.Handle("POST /overseer/login", auth(s.handleOverseerLogin))
	mux.Handle("GET /overseer", s.overseer(s.handleOverseer))
	mux.Handle("GET /ui/overseer/users", s.overseer(s.handleOverseerUsers))
	mux.Handle("POST /overseer/cards", s.overseer(s.handleOverseerCreateCard))
	mux.Handle("GET /ui/overseer/alerts", s.overseer(s.handleOverseerAlerts))
	mux.Handle("POST /overseer/alerts/{id}/ack", s.overseer(s.handleAcknowledgeAlert))

	mux.Handle("POST /voice/press", s.signedIn(s.handleVoicePress))
	mux.Handle("POST /voice/release", s.signedIn(s.handleVoiceRelease))
	mux.Handle("GET /voice/status", s.signedIn(s.handleVoiceStatus))
	mux.Handle("POST /voice/cancel", s.signedIn(s.handleVoiceCancel))
	mux.Handle("POST /voice/dismiss", s.signedIn(s.handleVoiceDismiss))
	mux.Handle("POST /voice/apply", s.user(s.handleVoiceApply))
	mux.Handle("POST /voice/play/{key}", s.anyone(s.handleVoicePlay))
	mux.Handle("POST /voice/ended", s.anyone(s.handleVoiceEnded))

	mux.Handle("/", s.anyone(s.handleNotFound))
}

// Shutdown gracefully shuts down the server and its limiter goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		s.authLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Too many requests. Please wait a moment and try again.").Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := struct {
		HTTP          trace.Metrics             `json:"http"`
		RateLimit     ratelimit.Metrics         `json:"rate_limit"`
		AuthRateLimit ratelimit.Metrics         `json:"auth_rate_limit"`
		Security      security.DetectionMetrics `json:"security"`
	}{
		HTTP:          s.tracer.GetMetrics(),
		RateLimit:     s.limiter.GetMetrics(),
		AuthRateLimit: s.authLimiter.GetMetrics(),
		Security:      s.detector.GetMetrics(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.library == nil || s.library.FS() == nil {
		http.NotFound(w, r)
		return
	}
	http.StripPrefix("/audio/", http.FileServer(http.FS(s.library.FS()))).ServeHTTP(w, r)
}

// mediaOrigin returns the scheme and host of an absolute clip URL, or ""
// when clips are served by this server.
func mediaOrigin(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
