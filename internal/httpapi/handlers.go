package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/backup"
	"classvote.org/internal/classes"
	"classvote.org/internal/election"
	"classvote.org/internal/identity"
	"classvote.org/internal/obs"
	"classvote.org/internal/stream"
)

const serviceName = "classvote-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain services behind the HTTP surface.
type Services struct {
	Users     *identity.Service
	Classes   *classes.Service
	Elections *election.Service
	Backups   *backup.Service
	Audit     *audit.Logger
	Tokens    *auth.Tokens
	Stream    *stream.Stream
}

// Options tune the HTTP surface.
type Options struct {
	Version    string
	Production bool
	// RateLimit and RateBurst bound login, registration and public voting
	// per client IP. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// Origins are browser origins allowed by CORS besides localhost.
	Origins []string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string
	production bool
	origins    []string

	users     *identity.Service
	classes   *classes.Service
	elections *election.Service
	backups   *backup.Service
	audit     *audit.Logger
	tokens    *auth.Tokens
	stream    *stream.Stream

	rateLimit float64
	rateBurst int
}

func New(rp readinessChecker, svc Services, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    opts.Version,
		production: opts.Production,
		origins:    opts.Origins,
		users:      svc.Users,
		classes:    svc.Classes,
		elections:  svc.Elections,
		backups:    svc.Backups,
		audit:      svc.Audit,
		tokens:     svc.Tokens,
		stream:     svc.Stream,
		rateLimit:  opts.RateLimit,
		rateBurst:  opts.RateBurst,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// accounts
	a.mux.Handle("POST /v1/auth/register", a.limited(a.Register))
	a.mux.Handle("POST /v1/auth/login", a.limited(a.Login))
	a.mux.HandleFunc("POST /v1/auth/verify", a.VerifyEmail)
	a.mux.Handle("POST /v1/auth/resend-verification", a.limited(a.ResendVerification))
	a.mux.Handle("POST /v1/auth/password-reset", a.limited(a.RequestPasswordReset))
	a.mux.HandleFunc("POST /v1/auth/password-reset/complete", a.CompletePasswordReset)
	a.mux.HandleFunc("GET /v1/me", a.Me)

	staff := RequireRole(auth.RoleAdmin, auth.RoleTeacher)
	admin := RequireRole(auth.RoleAdmin)

	a.mux.Handle("GET /v1/users", staff(http.HandlerFunc(a.ListUsers)))
	a.mux.Handle("POST /v1/users", admin(http.HandlerFunc(a.CreateUser)))
	a.mux.HandleFunc("GET /v1/users/{id}", a.GetUser)
	a.mux.HandleFunc("PATCH /v1/users/{id}", a.UpdateUser)
	a.mux.Handle("POST /v1/users/{id}/activate", admin(http.HandlerFunc(a.ActivateUser)))
	a.mux.Handle("POST /v1/users/{id}/deactivate", admin(http.HandlerFunc(a.DeactivateUser)))
	a.mux.Handle("DELETE /v1/users/{id}", admin(http.HandlerFunc(a.DeleteUser)))

	// classes
	a.mux.HandleFunc("GET /v1/classes", a.ListClasses)
	a.mux.Handle("POST /v1/classes", admin(http.HandlerFunc(a.CreateClass)))
	a.mux.HandleFunc("GET /v1/classes/{id}", a.GetClass)
	a.mux.Handle("PATCH /v1/classes/{id}", admin(http.HandlerFunc(a.UpdateClass)))
	a.mux.Handle("POST /v1/classes/{id}/teacher", admin(http.HandlerFunc(a.AssignTeacher)))
	a.mux.Handle("DELETE /v1/classes/{id}", admin(http.HandlerFunc(a.DeleteClass)))

	// elections
	a.mux.HandleFunc("GET /v1/elections", a.ListElections)
	a.mux.Handle("POST /v1/elections", staff(http.HandlerFunc(a.CreateElection)))
	a.mux.HandleFunc("GET /v1/elections/{id}", a.GetElection)
	a.mux.Handle("PATCH /v1/elections/{id}", staff(http.HandlerFunc(a.UpdateElection)))
	a.mux.Handle("DELETE /v1/elections/{id}", staff(http.HandlerFunc(a.DeleteElection)))
	a.mux.Handle("POST /v1/elections/{id}/activate", staff(http.HandlerFunc(a.ActivateElection)))
	a.mux.Handle("POST /v1/elections/{id}/cancel", staff(http.HandlerFunc(a.CancelElection)))
	a.mux.Handle("POST /v1/elections/{id}/complete", staff(http.HandlerFunc(a.CompleteElection)))

	a.mux.HandleFunc("GET /v1/elections/{id}/candidates", a.ListCandidates)
	a.mux.Handle("POST /v1/elections/{id}/candidates", staff(http.HandlerFunc(a.AddCandidate)))
	a.mux.Handle("PATCH /v1/elections/{id}/candidates/{candidate_id}", staff(http.HandlerFunc(a.UpdateCandidate)))
	a.mux.Handle("DELETE /v1/elections/{id}/candidates/{candidate_id}", staff(http.HandlerFunc(a.RemoveCandidate)))

	a.mux.HandleFunc("POST /v1/elections/{id}/vote", a.CastVote)
	a.mux.HandleFunc("GET /v1/elections/{id}/vote-status", a.VoteStatus)

	a.mux.Handle("POST /v1/elections/{id}/qr", staff(http.HandlerFunc(a.GenerateQR)))
	a.mux.Handle("POST /v1/elections/{id}/qr/toggle", staff(http.HandlerFunc(a.ToggleQR)))
	a.mux.Handle("PATCH /v1/elections/{id}/public-access", staff(http.HandlerFunc(a.SetPublicAccess)))
	a.mux.Handle("POST /v1/elections/{id}/slots", staff(http.HandlerFunc(a.AddTimeSlot)))
	a.mux.Handle("DELETE /v1/elections/{id}/slots/{slot_id}", staff(http.HandlerFunc(a.RemoveTimeSlot)))

	a.mux.Handle("POST /v1/elections/{id}/results/calculate", staff(http.HandlerFunc(a.CalculateResults)))
	a.mux.Handle("POST /v1/elections/{id}/results/publish", staff(http.HandlerFunc(a.PublishResults)))
	a.mux.HandleFunc("GET /v1/elections/{id}/results", a.GetResults)
	a.mux.Handle("POST /v1/elections/{id}/reminders", staff(http.HandlerFunc(a.SendReminders)))
	a.mux.HandleFunc("GET /v1/elections/{id}/stream", a.Stream)

	// QR voting
	a.mux.HandleFunc("GET /v1/public/ballot/{token}", a.Ballot)
	a.mux.Handle("POST /v1/public/vote/{token}", a.limited(a.CastAnonymousVote))

	// administration
	a.mux.Handle("GET /v1/admin/logs", admin(http.HandlerFunc(a.QueryLogs)))
	a.mux.Handle("POST /v1/admin/backups", admin(http.HandlerFunc(a.CreateBackup)))
}

func (a *API) limited(h http.HandlerFunc) http.Handler {
	if a.rateLimit <= 0 || a.rateBurst <= 0 {
		return h
	}
	return RateLimit(h, a.rateBurst, a.rateLimit)
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(a.dispatch)
	h = a.withAuth(h)
	h = ClientInfo(h)
	h = MaxBodyBytes(h, maxJSONBody)
	h = CORS(h, a.origins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// dispatch serves matched routes through the mux and renders the mux's
// own 404 and 405 replies as JSON errors.
func (a *API) dispatch(w http.ResponseWriter, r *http.Request) {
	h, pattern := a.mux.Handler(r)
	if pattern != "" {
		a.mux.ServeHTTP(w, r)
		return
	}
	fallback := &headerOnlyWriter{header: http.Header{}}
	h.ServeHTTP(fallback, r)
	switch fallback.status {
	case http.StatusMethodNotAllowed:
		w.Header().Set("Allow", fallback.header.Get("Allow"))
		writeErrorCode(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	case http.StatusNotFound, 0:
		writeErrorCode(w, r, http.StatusNotFound, "route_not_found", "route not found")
	default:
		// Redirects for unclean paths.
		for k, v := range fallback.header {
			w.Header()[k] = v
		}
		w.WriteHeader(fallback.status)
	}
}

// headerOnlyWriter records what the mux fallback would send, minus the body.
type headerOnlyWriter struct {
	header http.Header
	status int
}

func (w *headerOnlyWriter) Header() http.Header { return w.header }

func (w *headerOnlyWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *headerOnlyWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return len(b), nil
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
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

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
