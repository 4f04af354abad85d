package flows

// SessionClaims is the part of a validated token a request needs.
type SessionClaims struct {
	Subject     string
	Authorities []string
}

// SessionMetrics carries metric IDs for per-request session resolution.
type SessionMetrics struct {
	AccessAccepted int
	RefreshRotated int
	RotationFailed int
	Anonymous      int
}

// SessionDeps captures per-request session resolution dependencies.
type SessionDeps struct {
	ValidateAccess  func(string) (SessionClaims, error)
	ValidateRefresh func(string) (SessionClaims, error)
	MintAccess      func(SessionClaims) (string, error)

	MetricInc func(int)
	Debug     func(string, ...any)

	Metrics SessionMetrics
}

// Resolution is the outcome for one request. RotatedAccess is set when a new
// access token was minted from the refresh token and must go back to the
// client.
type Resolution struct {
	Claims        SessionClaims
	Authenticated bool
	RotatedAccess string
}

// RunResolveSession tries the access token, then the refresh token. A failure
// on one path only closes that path; nothing here fails the request.
func RunResolveSession(access, refresh string, deps SessionDeps) Resolution {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Debug == nil {
		deps.Debug = func(string, ...any) {}
	}

	if access != "" && deps.ValidateAccess != nil {
		claims, err := deps.ValidateAccess(access)
		if err == nil {
			deps.MetricInc(deps.Metrics.AccessAccepted)
			return Resolution{Claims: claims, Authenticated: true}
		}
		deps.Debug("authcore: access token rejected", "error", err)
	}

	if refresh != "" && deps.ValidateRefresh != nil {
		claims, err := deps.ValidateRefresh(refresh)
		if err == nil {
			res := Resolution{Claims: claims, Authenticated: true}
			if deps.MintAccess != nil {
				token, err := deps.MintAccess(claims)
				if err != nil {
					deps.MetricInc(deps.Metrics.RotationFailed)
					deps.Debug("authcore: access rotation failed", "subject", claims.Subject, "error", err)
				} else {
					deps.MetricInc(deps.Metrics.RefreshRotated)
					res.RotatedAccess = token
				}
			}
			return res
		}
		deps.Debug("authcore: refresh token rejected", "error", err)
	}

	deps.MetricInc(deps.Metrics.Anonymous)
	return Resolution{}
}
