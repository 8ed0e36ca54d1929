package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clinicq/queue-service/internal/store"
)

const (
	RoleAdmin                = "admin"
	RoleRecordsOfficer       = "records_officer"
	RoleHealthOfficer        = "department_health_officer"
	RoleBarangayHealthWorker = "barangay_health_worker"
)

var (
	adminRoles     = []string{RoleAdmin}
	clinicianRoles = []string{RoleAdmin, RoleRecordsOfficer, RoleHealthOfficer}
	reportingRoles = []string{RoleAdmin, RoleHealthOfficer}
	staffRoles     = []string{RoleAdmin, RoleRecordsOfficer, RoleHealthOfficer, RoleBarangayHealthWorker}
)

type authContextKey struct{}

func AuthMiddleware(queueStore store.QueueStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := queueStore.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return store.Session{}, false
	}
	session, ok := value.(store.Session)
	return session, ok
}

func requireRole(w http.ResponseWriter, r *http.Request, roles []string) bool {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return false
	}
	for _, role := range roles {
		if session.Role == role {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "access_denied", "role not allowed")
	return false
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint keeps the waiting-room board reachable without a session.
func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/display":
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
