package httpapi

import (
	"context"
	"net/http"

	"google_account/internal/captcha"
	"google_account/internal/config"
	"google_account/internal/engine"
	"google_account/internal/hubstudio"
	"google_account/internal/logbus"
	"google_account/internal/store/sqlite"
	"google_account/internal/ws"
)

// Gateway 远程浏览器服务的状态查询。
type Gateway interface {
	CheckStatus(ctx context.Context) bool
	Groups(ctx context.Context) ([]hubstudio.Group, error)
}

type CaptchaStats interface {
	Status() captcha.Status
}

type AvatarCounter interface {
	Available(ctx context.Context) (int, error)
	Dir(ctx context.Context) string
}

type Options struct {
	Cfg     config.Config
	Bus     *logbus.Bus
	Store   *sqlite.Store
	Engine  *engine.Engine
	Gateway Gateway
	Captcha CaptchaStats
	Avatars AvatarCounter
}

type Server struct {
	cfg     config.Config
	bus     *logbus.Bus
	store   *sqlite.Store
	engine  *engine.Engine
	gateway Gateway
	captcha CaptchaStats
	avatars AvatarCounter
	ws      *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:     opts.Cfg,
		bus:     opts.Bus,
		store:   opts.Store,
		engine:  opts.Engine,
		gateway: opts.Gateway,
		captcha: opts.Captcha,
		avatars: opts.Avatars,
		ws:      ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/accounts", s.handleAccounts)
	api.HandleFunc("/api/v1/accounts/import", s.handleAccountsImport)
	api.HandleFunc("/api/v1/accounts/logs", s.handleLoginLogs)
	api.HandleFunc("/api/v1/accounts/reset", s.handleResetLogin)

	api.HandleFunc("/api/v1/login/start", s.handleLoginStart)
	api.HandleFunc("/api/v1/login/batch", s.handleLoginBatch)
	api.HandleFunc("/api/v1/channel/batch", s.handleChannelBatch)
	api.HandleFunc("/api/v1/tasks/stop", s.handleTasksStop)
	api.HandleFunc("/api/v1/tasks/state", s.handleTasksState)

	api.HandleFunc("/api/v1/phones", s.handlePhones)
	api.HandleFunc("/api/v1/phones/reset", s.handlePhoneReset)
	api.HandleFunc("/api/v1/nodes", s.handleNodes)
	api.HandleFunc("/api/v1/envs", s.handleEnvs)
	api.HandleFunc("/api/v1/envs/sync", s.handleEnvSync)
	api.HandleFunc("/api/v1/envs/create", s.handleEnvCreate)

	api.HandleFunc("/api/v1/gateway/status", s.handleGatewayStatus)
	api.HandleFunc("/api/v1/gateway/groups", s.handleGatewayGroups)
	api.HandleFunc("/api/v1/captcha/state", s.handleCaptchaState)
	api.HandleFunc("/api/v1/avatars/state", s.handleAvatarState)

	api.HandleFunc("/api/v1/settings/email", s.handleEmailSettings)
	api.HandleFunc("/api/v1/settings/email/test", s.handleEmailTest)
	api.HandleFunc("/api/v1/settings/captcha", s.handleCaptchaSettings)
	api.HandleFunc("/api/v1/settings/hubstudio", s.handleHubStudioSettings)
	api.HandleFunc("/api/v1/settings/channel", s.handleChannelSettings)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCaptchaState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.captcha == nil {
		writeJSON(w, http.StatusOK, map[string]any{"data": captcha.Status{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.captcha.Status()})
}

func (s *Server) handleAvatarState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.avatars == nil {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"available": 0}})
		return
	}
	n, err := s.avatars.Available(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"available": n,
		"dir":       s.avatars.Dir(r.Context()),
	}})
}

func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ok := s.gateway != nil && s.gateway.CheckStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"connected": ok}})
}

func (s *Server) handleGatewayGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "browser gateway is not configured"})
		return
	}
	groups, err := s.gateway.Groups(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": groups})
}
