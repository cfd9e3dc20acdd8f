// Package httpapi is a thin HTTP mirror of internal/cli, for operator
// tooling that prefers a request/response surface over a subprocess call
// (spec §6 "CLI front-ends and dashboards" are out of scope for the core,
// but config.Server already reserves an opt-in surface for this purpose).
//
// Grounded on the teacher's internal/server package: same ada.New() +
// middleware chain + Group/route layout. Every teacher route handled a
// distinct resource with its own request/response types; here a single
// route mirrors the CLI's own command/arg dispatch, since the CLI already
// is the complete operator-facing command surface (spec §6) and this
// package's only job is to expose it over HTTP rather than reimplement it.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"

	"github.com/rakunlabs/ocs/internal/cli"
	"github.com/rakunlabs/ocs/internal/config"
)

// Server exposes the CLI's command surface over HTTP.
type Server struct {
	cfg    config.Server
	app    *cli.App
	server *ada.Server
}

// New builds the HTTP mirror. app is the same App wired for the CLI path;
// Dispatch is safe to call concurrently from multiple requests since each
// call only writes through a request-scoped copy of App (see runCommand).
func New(cfg config.Server, app *cli.App) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
	)

	s := &Server{cfg: cfg, app: app, server: mux}

	baseGroup := mux.Group(cfg.BasePath)
	apiGroup := baseGroup.Group("/api")
	apiGroup.POST("/v1/cli", s.runCommand)
	apiGroup.GET("/v1/healthz", s.healthz)

	return s, nil
}

// Start blocks serving on cfg.Host:cfg.Port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, s.ListenAddr())
}

// commandRequest is the body of POST /api/v1/cli: the same argv a CLI
// invocation would receive, e.g. {"args": ["pipeline", "list"]}.
type commandRequest struct {
	Args []string `json:"args"`
}

// runCommand mirrors a single CLI invocation. It shallow-copies App so the
// per-request output buffer doesn't race with other concurrent requests;
// every field besides Out is a shared pointer to the same long-lived
// component, which is safe since those components already serialise their
// own DB access.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Args) == 0 {
		httpResponse(w, "args must not be empty", http.StatusBadRequest)
		return
	}

	reqApp := *s.app
	buf := &bytes.Buffer{}
	reqApp.Out = buf

	code := reqApp.Dispatch(r.Context(), req.Args)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForExitCode(code))
	w.Write(buf.Bytes())
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httpResponse(w, "ok", http.StatusOK)
}

// statusForExitCode maps a CLI exit code (spec §6) to an HTTP status so
// callers scripting against this surface get a meaningful response code
// without parsing the body.
func statusForExitCode(code int) int {
	switch code {
	case cli.ExitOK:
		return http.StatusOK
	case cli.ExitValidation:
		return http.StatusBadRequest
	case cli.ExitMissingCredential:
		return http.StatusUnauthorized
	case cli.ExitProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type responseMessage struct {
	Message string `json:"message"`
}

func httpResponse(w http.ResponseWriter, msg string, code int) {
	v, _ := json.Marshal(responseMessage{Message: msg})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(v)
}

// ListenAddr returns the host:port the server is configured to bind.
func (s *Server) ListenAddr() string {
	return net.JoinHostPort(s.cfg.Host, s.cfg.Port)
}
