package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/canopy-network/balanceblocks/app/query/types"
	"github.com/canopy-network/balanceblocks/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]types.User
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminUsers := utils.Env("ADMIN_USERS", "")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	users := map[string]types.User{}
	phash, err := utils.HashOrRead(adminPass)
	if err == nil {
		users[adminUser] = types.User{Username: adminUser, Hash: phash, Role: "admin"}
	} else if app.Logger != nil {
		app.Logger.Error("Failed to hash ADMIN_PASSWORD", zap.Error(err))
	}
	extra, err := ParseUsers(adminUsers)
	if err != nil && app.Logger != nil {
		app.Logger.Error("Ignoring malformed ADMIN_USERS entries", zap.Error(err))
	}
	for name, u := range extra {
		users[name] = u
	}

	return &Controller{
		App:        app,
		AdminToken: adminToken,
		Users:      users,
		JWTSecret:  jwtSecret,
	}
}

// ParseUsers reads a comma separated list of user:hash pairs. The hash is a bcrypt hash or, for local
// setups, a clear text password. Malformed entries are skipped and reported in the joined error.
func ParseUsers(raw string) (map[string]types.User, error) {
	users := map[string]types.User{}
	var errs []error
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, secret, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || secret == "" {
			errs = append(errs, fmt.Errorf("entry %q: expected user:hash", name))
			continue
		}
		hash, err := utils.HashOrRead(secret)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %q: %w", name, err))
			continue
		}
		users[name] = types.User{Username: name, Hash: hash, Role: "admin"}
	}
	return users, errors.Join(errs...)
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo the origin so credentialed requests work from any dashboard host.
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/login", c.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleLogout).Methods(http.MethodPost)

	r.HandleFunc("/accounts/{address}/history", c.HandleHistory).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/balance", c.HandleBalance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/balance-blocks", c.HandleBalanceBlocks).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/reports", c.HandleStoredReport).Methods(http.MethodGet)

	r.Handle("/reports", c.RequireAuth(http.HandlerFunc(c.HandleReport))).Methods(http.MethodPost)

	r.HandleFunc("/ws", c.HandleWebSocket)

	return r, nil
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
