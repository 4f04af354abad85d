// Package password owns the hashing boundary for login secrets.
//
// Two schemes are provided: [Bcrypt] (the default, cost 12) and [Argon2id]
// (PHC encoded). A [Dispatcher] hashes with one primary scheme and verifies
// against whichever scheme produced the stored hash, so stored credentials
// survive a change of primary.
//
// # What this package must NOT do
//
//   - Store or look up credentials. Callers supply plaintext and receive hashes.
//   - Enforce password policy beyond minimum and maximum byte length.
//   - Log plaintext or hashes.
package password
