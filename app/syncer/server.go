package syncworker

import (
	"net/http"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type statusResponse struct {
	SyncedHeight uint64      `json:"syncedHeight"`
	Ready        bool        `json:"ready"`
	LastAttempt  *time.Time  `json:"lastAttempt,omitempty"`
	LastSuccess  *time.Time  `json:"lastSuccess,omitempty"`
	LastFailure  *time.Time  `json:"lastFailure,omitempty"`
	Jobs         []jobStatus `json:"jobs"`
}

type jobStatus struct {
	Name string     `json:"name"`
	Spec string     `json:"spec"`
	Next *time.Time `json:"next,omitempty"`
	Prev *time.Time `json:"prev,omitempty"`
}

// NewRouter serves the probes and a status document.
func (a *App) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Alive() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})).Methods(http.MethodGet)

	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Ready() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})).Methods(http.MethodGet)

	r.Handle("/status", http.HandlerFunc(a.handleStatus)).Methods(http.MethodGet)

	return r
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{SyncedHeight: a.SyncedHeight.Load(), Ready: a.Ready()}
	load := func(key string) *time.Time {
		if t, ok := a.Status.Load(key); ok {
			return &t
		}
		return nil
	}
	resp.LastAttempt = load(statusLastAttempt)
	resp.LastSuccess = load(statusLastSuccess)
	resp.LastFailure = load(statusLastFailure)
	resp.Jobs = a.jobStatuses()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// jobStatuses lists the scheduled jobs with their next and previous run times. Next is unset until the
// cron has started.
func (a *App) jobStatuses() []jobStatus {
	out := make([]jobStatus, 0, len(a.jobs))
	if a.Cron == nil {
		return out
	}
	at := func(t time.Time) *time.Time {
		if t.IsZero() {
			return nil
		}
		return &t
	}
	for _, e := range a.Cron.Entries() {
		job, ok := a.jobs[e.ID]
		if !ok {
			continue
		}
		job.Next, job.Prev = at(e.Next), at(e.Prev)
		out = append(out, job)
	}
	return out
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")
	a.Server = &http.Server{Addr: addr, Handler: a.NewRouter()}
}
