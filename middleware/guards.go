package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/securestorage/authcore"
)

// RequireAuthenticated rejects requests without a principal with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authcore.PrincipalFromContext(r.Context()); !ok {
			WriteError(w, authcore.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthority admits principals holding at least one of names. A
// missing principal is 401; a principal without the authority is 403.
func RequireAuthority(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := authcore.PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, authcore.ErrUnauthenticated)
				return
			}
			for _, name := range names {
				if p.HasAuthority(name) {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteError(w, authcore.ErrPermissionDenied)
		})
	}
}

type errorBody struct {
	Status  int    `json:"status"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// WriteError renders err as the JSON error body used by every endpoint.
func WriteError(w http.ResponseWriter, err error) {
	kind := authcore.KindOf(err)
	status := authcore.HTTPStatus(kind)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Status:  status,
		Reason:  kind.String(),
		Message: authcore.ErrorMessage(err),
	})
}
