package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// MaskDSN hides the password of a database connection string. URL DSNs keep
// their user and host; key=value DSNs lose only the password pair.
func MaskDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return strings.Replace(u.String(), "xxxxx", RedactedValue, 1)
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}

// DSN is a log attribute carrying a masked connection string.
func DSN(dsn string) slog.Attr {
	return slog.String("dsn", MaskDSN(dsn))
}
