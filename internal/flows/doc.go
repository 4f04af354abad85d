// Package flows holds the orchestration behind Engine operations as plain
// functions over dependency structs.
//
// RunLogin walks the credential state machine (lookup, attempt tracking,
// lockout, status gates, password), RunConfirmLoginMFA finishes a pending
// second factor, and RunResolveSession decides who a request belongs to from
// its cookies. Every collaborator is a function field, so tests drive the
// flows with in-memory fakes.
//
// # What this package must NOT do
//
//   - Hold state between calls.
//   - Import the root authcore package.
//   - Log or audit passwords, codes or tokens.
package flows
