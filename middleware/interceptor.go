package middleware

import (
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/securestorage/authcore"
)

// Interceptor resolves the session cookies of every request that is not a
// pre-flight and not on publicRoutes. A valid access cookie attaches its
// principal. Otherwise a valid refresh cookie attaches its principal and a
// freshly minted access cookie is written to the response. Otherwise the
// request continues anonymously and a downstream guard decides.
//
// Invalid tokens never fail the request.
func Interceptor(engine *authcore.Engine, publicRoutes []string) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(publicRoutes))
	for _, route := range publicRoutes {
		public[cleanPath(route)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := public[cleanPath(r.URL.Path)]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			res := engine.ResolveRequest(r)
			if res.Principal == nil {
				next.ServeHTTP(w, r)
				return
			}
			if res.RotatedAccess != "" {
				engine.SetAccessCookie(w, res.RotatedAccess)
			}
			ctx := authcore.WithPrincipal(r.Context(), res.Principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// ClientIP attaches the remote address to the request context so audit
// events carry it. Run it behind chi's RealIP (or equivalent) when a proxy
// terminates connections.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(authcore.WithClientIP(r.Context(), ip)))
	})
}
