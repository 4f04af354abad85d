// Package stores holds pending MFA login challenges.
//
// A challenge is created when the password step succeeds for an MFA-enabled
// identity and is consumed when a correct TOTP code arrives. Wrong codes are
// counted; reaching the limit deletes the challenge so the login must restart.
//
// Two implementations share the [ChallengeStore] contract: an in-process store
// over cache.Store and a Redis store using a versioned binary record with
// WATCH/MULTI updates.
//
// # What this package must NOT do
//
//   - Verify codes or decide login outcomes. That belongs to internal/flows.
//   - Import the root authcore package.
package stores
