// Package jwt mints and validates the signed access and refresh tokens that
// carry a session, and moves them in and out of HTTP-only cookies.
//
// Validation failures are deliberately indistinguishable: a malformed, forged,
// wrong-kind or expired token all yield [ErrInvalidToken].
package jwt
