package authcore

import (
	"net/http"

	"github.com/securestorage/authcore/internal/flows"
	"github.com/securestorage/authcore/jwt"
)

// SessionResolution is the outcome of resolving one request's cookies.
// Principal is nil for an anonymous request. RotatedAccess holds a freshly
// minted access token when the refresh token was used.
type SessionResolution struct {
	Principal     *Principal
	RotatedAccess string
}

func (e *Engine) sessionDeps() flows.SessionDeps {
	validate := func(k jwt.Kind) func(string) (flows.SessionClaims, error) {
		return func(token string) (flows.SessionClaims, error) {
			claims, err := e.codec.ValidateKind(k, token)
			if err != nil {
				return flows.SessionClaims{}, err
			}
			return flows.SessionClaims{Subject: claims.Subject, Authorities: claims.Authorities}, nil
		}
	}
	return flows.SessionDeps{
		ValidateAccess:  validate(jwt.Access),
		ValidateRefresh: validate(jwt.Refresh),
		MintAccess: func(c flows.SessionClaims) (string, error) {
			return e.codec.Mint(jwt.Access, c.Subject, c.Authorities, e.now())
		},
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Debug: func(msg string, args ...any) {
			e.logger.Debug(msg, args...)
		},
		Metrics: flows.SessionMetrics{
			AccessAccepted: int(MetricAccessAccepted),
			RefreshRotated: int(MetricRefreshRotated),
			RotationFailed: int(MetricRotationFailed),
			Anonymous:      int(MetricAnonymousRequest),
		},
	}
}

// ResolveSession authenticates with the access token, falling back to the
// refresh token. It never fails: an invalid token only closes its own path.
func (e *Engine) ResolveSession(access, refresh string) SessionResolution {
	if !e.ready() {
		return SessionResolution{}
	}
	res := flows.RunResolveSession(access, refresh, e.flows.Session)
	if !res.Authenticated {
		return SessionResolution{}
	}
	return SessionResolution{
		Principal: &Principal{
			UserID:      res.Claims.Subject,
			Authorities: res.Claims.Authorities,
		},
		RotatedAccess: res.RotatedAccess,
	}
}

// ResolveRequest reads the session cookies from r and resolves them.
func (e *Engine) ResolveRequest(r *http.Request) SessionResolution {
	if !e.ready() {
		return SessionResolution{}
	}
	access, _ := jwt.FromRequest(r, e.cookies, jwt.Access)
	refresh, _ := jwt.FromRequest(r, e.cookies, jwt.Refresh)
	return e.ResolveSession(access, refresh)
}

// SetSessionCookies writes both token cookies for a completed login.
func (e *Engine) SetSessionCookies(w http.ResponseWriter, res *LoginResult) {
	if !e.ready() || res == nil || res.MFARequired {
		return
	}
	http.SetCookie(w, e.codec.Cookie(e.cookies, jwt.Access, res.AccessToken))
	http.SetCookie(w, e.codec.Cookie(e.cookies, jwt.Refresh, res.RefreshToken))
}

// SetAccessCookie writes a rotated access token.
func (e *Engine) SetAccessCookie(w http.ResponseWriter, token string) {
	if !e.ready() || token == "" {
		return
	}
	http.SetCookie(w, e.codec.Cookie(e.cookies, jwt.Access, token))
}

// Logout expires both cookies. Tokens are stateless, so a copied token stays
// valid until it expires on its own.
func (e *Engine) Logout(w http.ResponseWriter, r *http.Request) {
	if !e.ready() {
		return
	}
	http.SetCookie(w, jwt.ExpireCookie(e.cookies, jwt.Access))
	http.SetCookie(w, jwt.ExpireCookie(e.cookies, jwt.Refresh))

	var userID string
	if p, ok := PrincipalFromContext(r.Context()); ok {
		userID = p.UserID
	}
	e.metricInc(MetricLogout)
	e.emitAudit(r.Context(), auditEventLogout, true, userID, "", nil, nil)
}
