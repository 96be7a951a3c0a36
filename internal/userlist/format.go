package userlist

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// ProviderLabel capitalises a provider tag for display ("github" → "Github").
// Unknown providers are shown the same way; an empty one as "Unknown".
func ProviderLabel(provider string) string {
	if provider == "" {
		return "Unknown"
	}
	r, n := utf8.DecodeRuneInString(provider)
	return string(unicode.ToUpper(r)) + provider[n:]
}

// CreatedLabel renders an ISO-8601 timestamp in local time. Anything that
// doesn't parse is shown verbatim.
func CreatedLabel(createdAt string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, createdAt); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
	}
	return createdAt
}
