// Package authcore authenticates the users of the secure storage application.
// It checks email and password logins against a user directory, counts failed
// attempts toward a temporary lockout, enforces account status and password
// aging, completes TOTP second factors, and issues the access and refresh
// tokens that travel as cookies.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Identities, credentials and confirmation keys live behind
// the [UserDirectory], [CredentialStore] and [ConfirmationStore] interfaces;
// store/memstore and store/gormstore implement them.
//
// # Sessions
//
// Tokens are stateless JWTs. [Engine.ResolveRequest] accepts a valid access
// cookie, otherwise mints a new access token from a valid refresh cookie, and
// otherwise leaves the request anonymous. The middleware package wraps this
// as an http.Handler interceptor plus authority guards.
//
// # Failures
//
// Every returned error maps to an [ErrorKind] through [KindOf]. Login never
// reveals whether the email or the password was wrong; backend outages are
// [ErrUnavailable] rather than an authentication failure.
//
// # What this package must NOT do
//
//   - Log passwords, TOTP codes, secrets or token text.
//   - Import any sub-package that re-imports authcore (no import cycles).
//   - Delete identities; it only writes back flags, attempts and timestamps.
package authcore
