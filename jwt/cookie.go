package jwt

import (
	"net/http"
	"time"
)

// CookieConfig controls how tokens travel as cookies.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Path        string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
}

func (c CookieConfig) name(k Kind) string {
	if k == Refresh {
		return c.RefreshName
	}
	return c.AccessName
}

// Cookie builds the Set-Cookie directive carrying token. MaxAge follows the
// kind's TTL.
func (c *Codec) Cookie(cfg CookieConfig, k Kind, token string) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.name(k),
		Value:    token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(c.TTL(k) / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
}

// ExpireCookie builds a directive that deletes the cookie for kind k.
func ExpireCookie(cfg CookieConfig, k Kind) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.name(k),
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
}

// FromRequest extracts the raw token for kind k. It does not validate it.
func FromRequest(r *http.Request, cfg CookieConfig, k Kind) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(cfg.name(k))
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
