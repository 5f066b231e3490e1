package util

import (
	"net/url"
	"strings"
)

// MaskSecret deja ver solo el primer y último carácter.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 3 {
		return "***"
	}
	return s[:1] + "…" + s[len(s)-1:]
}

// MaskDSN oculta la password de un DSN tipo URL (postgres://u:p@h/db).
// Si no parsea como URL se enmascara entero.
func MaskDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return MaskSecret(dsn)
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
