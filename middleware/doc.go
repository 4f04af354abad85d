// Package middleware adapts an authcore.Engine to net/http.
//
// # Interceptor
//
// [Interceptor] reads the ACCESS and REFRESH cookies, attaches the resolved
// principal to the request context and silently rotates the access cookie
// when only the refresh token is still valid. Public routes and OPTIONS
// requests bypass it entirely.
//
// # Guards
//
//   - [RequireAuthenticated] rejects anonymous requests with 401.
//   - [RequireAuthority] rejects principals lacking every listed authority
//     with 403.
//
// The package never parses tokens itself; every decision is delegated to the
// Engine.
package middleware
