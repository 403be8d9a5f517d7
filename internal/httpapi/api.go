// Package httpapi is the HTTP surface of the service. Every guarded
// route declares a static requirement and funnels it through the
// authorization engine before touching a business module.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"aidcore.org/internal/audit"
	"aidcore.org/internal/auth"
	"aidcore.org/internal/dube"
	"aidcore.org/internal/obs"
	"aidcore.org/internal/stream"
	"aidcore.org/internal/wfp"
)

// ReadyProbe is the readiness check exposed under /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options collects the collaborators of the HTTP layer.
type Options struct {
	Ready   ReadyProbe
	Version string
	Auth    *auth.Service
	WFP     wfp.Service
	Dube    dube.Service
	Stream  *stream.Stream
	Audit   *audit.Recorder
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       *auth.Service
	wfp        wfp.Service
	dube       dube.Service
	stream     *stream.Stream
	auditor    *audit.Recorder
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.Ready,
		version:    opts.Version,
		auth:       opts.Auth,
		wfp:        opts.WFP,
		dube:       opts.Dube,
		stream:     opts.Stream,
		auditor:    opts.Audit,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth surface
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/password/reset", a.handlePasswordReset)
	a.mux.HandleFunc("/v1/auth/password/reset/confirm", a.handlePasswordResetConfirm)
	a.mux.HandleFunc("/v1/auth/verify", a.handleEmailVerify)
	a.mux.HandleFunc("/v1/auth/verify/confirm", a.handleEmailVerifyConfirm)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	// identity administration
	a.mux.HandleFunc("/v1/identities", a.handleIdentities)
	a.mux.HandleFunc("/v1/identities/", a.handleIdentityResource)

	// food assistance module
	a.mux.HandleFunc("/v1/wfp/cycles", a.handleCyclesCollection)
	a.mux.HandleFunc("/v1/wfp/cycles/", a.handleCycleResource)

	// merchant finance module
	a.mux.HandleFunc("/v1/dube/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/dube/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/dube/transfers", a.handleTransfers)
	a.mux.HandleFunc("/v1/dube/transactions", a.handleTransactions)

	// live audit feed
	a.mux.HandleFunc("/v1/audit/stream", a.handleAuditStream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// require runs the authorization engine for the current request and
// writes the deny response itself. The caller stops on false.
func (a *API) require(w http.ResponseWriter, r *http.Request, rq auth.Requirement) bool {
	err := auth.Authorize(auth.MaybePrincipal(r.Context()), rq)
	if err == nil {
		obs.ObserveDecision(true, "allow")
		return true
	}
	if ae, isAuth := auth.AsAuthError(err); isAuth {
		obs.ObserveDecision(false, string(ae.Kind))
		writeError(w, r, ae.HTTPStatus(), ae.Error())
		return false
	}
	// Predicate infrastructure failure, not a decision.
	writeError(w, r, http.StatusInternalServerError, "authorization check failed")
	return false
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if a.auditor == nil {
		return
	}
	_ = a.auditor.Log(ctx, event, fields)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "aidcore-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Info is anonymously accessible but sits behind the optional gate, so
// authenticated callers see who the server thinks they are.
func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	entry := map[string]any{
		"name":    "aidcore-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		entry["subject"] = principal.ID
		entry["role"] = principal.Role
	}
	writeJSON(w, http.StatusOK, entry)
}
