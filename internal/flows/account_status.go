package flows

import (
	"strconv"
	"time"
)

// CredentialExpired reports whether a credential last updated at updatedAt is
// past maxAge at now. It is recomputed on every check and never cached.
func CredentialExpired(updatedAt, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.After(updatedAt.Add(maxAge))
}

// accountStatusError applies the status gates in their fixed order: disabled,
// credentials expired, account expired.
func accountStatusError(a LoginAccount, c LoginCredential, now time.Time, maxAge time.Duration, errs LoginErrors) (string, error) {
	switch {
	case !a.Enabled:
		return "disabled", errs.AccountDisabled
	case CredentialExpired(c.UpdatedAt, now, maxAge):
		return "credentials_expired", errs.CredentialsExpired
	case !a.NonExpired:
		return "account_expired", errs.AccountExpired
	}
	return "", nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
