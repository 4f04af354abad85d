// Package limiters turns decaying counters into login policy inputs.
//
// # Limiters
//
//   - [AttemptTracker]: counts login attempts per email and reports when the
//     threshold is passed.
//   - [TOTPLimiter]: caps wrong codes per user for MFA verification outside a
//     login challenge.
//
// Both work over any [cache.Counter], so the same code runs against the
// in-process store and Redis.
//
// # What this package must NOT do
//
//   - Mutate identities. Flow functions decide what a passed threshold means.
//   - Import the root authcore package.
package limiters
