package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"
)

// Authenticator turns a bearer token into a durable user id. Token
// verification itself is external; the shipped implementation treats the
// token as an opaque account id, to be swapped for a real verifier.
type Authenticator interface {
	Verify(ctx context.Context, token string) (UserID, error)
}

var errBadToken = errors.New("invalid token")

type tokenAuthenticator struct{}

func (tokenAuthenticator) Verify(_ context.Context, token string) (UserID, error) {
	if token == "" {
		return "", errBadToken
	}
	return UserID(token), nil
}

const (
	apiRate  rate.Limit = 10
	apiBurst            = 20
)

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(apiRate, apiBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs <- err
	}
}

type authedHandle func(w http.ResponseWriter, r *http.Request, p httprouter.Params, user UserID)

// requireAuth wraps an API handler with rate limiting and bearer-token
// verification.
func requireAuth(cfg *Config, auth Authenticator, limiter *ipLimiter, errs chan<- error, next authedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)

		if !limiter.allow(realIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, apiError{Message: "Too many requests"}, errs)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, apiError{Message: "No token"}, errs)
			return
		}

		user, err := auth.Verify(r.Context(), token)
		if err != nil {
			logf(cfg, "API: Rejected token from %s: %v", realIP(r), err)
			writeJSON(w, http.StatusUnauthorized, apiError{Message: "Unauthorized"}, errs)
			return
		}

		next(w, r, p, user)
	}
}

type saveGridRequest struct {
	Title      string   `json:"title"`
	Statements []string `json:"statements"`
	TruthIndex *int     `json:"truthIndex"`
}

func (req *saveGridRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return "title is required"
	case len(req.Statements) != gridStatementCount:
		return "exactly 5 statements are required"
	case req.TruthIndex == nil || *req.TruthIndex < 0 || *req.TruthIndex >= gridStatementCount:
		return "truthIndex must be between 0 and 4"
	}

	for _, s := range req.Statements {
		if strings.TrimSpace(s) == "" {
			return "statements must not be empty"
		}
	}

	return ""
}

const gridStatementCount = 5

func saveGrid(cfg *Config, grids GridStore, errs chan<- error) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, user UserID) {
		startTime := time.Now()

		var req saveGridRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Message: "Invalid JSON payload"}, errs)
			return
		}

		if msg := req.validate(); msg != "" {
			writeJSON(w, http.StatusBadRequest, apiError{Message: msg}, errs)
			return
		}

		grid, err := grids.SaveGrid(r.Context(), user, Grid{
			Title:      req.Title,
			Statements: req.Statements,
			TrueIndex:  *req.TruthIndex,
		})
		if err != nil {
			errs <- err
			writeJSON(w, http.StatusInternalServerError, apiError{Message: "Failed to save grid"}, errs)
			return
		}

		logf(cfg, "API: Saved grid %q for %s in %s",
			grid.Title,
			user,
			time.Since(startTime).Round(time.Microsecond),
		)

		writeJSON(w, http.StatusCreated, grid, errs)
	}
}

func listGrids(cfg *Config, grids GridStore, errs chan<- error) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, user UserID) {
		startTime := time.Now()

		list, err := grids.FetchGrids(r.Context(), user)
		if err != nil {
			errs <- err
			writeJSON(w, http.StatusInternalServerError, apiError{Message: "Failed to list grids"}, errs)
			return
		}

		logf(cfg, "API: Listed %d grids for %s in %s",
			len(list),
			user,
			time.Since(startTime).Round(time.Microsecond),
		)

		writeJSON(w, http.StatusOK, list, errs)
	}
}

func deleteGrid(cfg *Config, grids GridStore, errs chan<- error) authedHandle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params, user UserID) {
		gridID := p.ByName("id")

		err := grids.DeleteGrid(r.Context(), user, gridID)
		if errors.Is(err, errGridNotFound) {
			writeJSON(w, http.StatusNotFound, apiError{Message: "Grid not found"}, errs)
			return
		}
		if err != nil {
			errs <- err
			writeJSON(w, http.StatusInternalServerError, apiError{Message: "Failed to delete grid"}, errs)
			return
		}

		logf(cfg, "API: Deleted grid %s for %s", gridID, user)
		writeJSON(w, http.StatusOK, apiError{Message: "Deleted"}, errs)
	}
}

// registerGridAPI wires up the saved-grid CRUD endpoints:
//   - POST   $prefix/api/grids     → save a new grid
//   - GET    $prefix/api/grids     → list the caller's grids
//   - DELETE $prefix/api/grids/:id → delete one of the caller's grids
func registerGridAPI(cfg *Config, grids GridStore, auth Authenticator, mux *httprouter.Router, errs chan<- error) {
	limiter := newIPLimiter()

	mux.POST(cfg.prefix+"/api/grids", requireAuth(cfg, auth, limiter, errs, saveGrid(cfg, grids, errs)))
	mux.GET(cfg.prefix+"/api/grids", requireAuth(cfg, auth, limiter, errs, listGrids(cfg, grids, errs)))
	mux.DELETE(cfg.prefix+"/api/grids/:id", requireAuth(cfg, auth, limiter, errs, deleteGrid(cfg, grids, errs)))
}
