package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx in DSNs and error text
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// bearer tokens forwarded to upstream APIs
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_.]+`)

	// api_key / apikey / token / key query parameters in fetch URLs
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|key)=[A-Za-z0-9-_]{8,}`)

	// user:pass@host credentials embedded in URIs (postgres, bolt)
	credentialsPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// ConnectionString removes credentials from a store DSN before it is
// logged. Covers both key=value and uri-embedded forms.
func ConnectionString(dsn string) string {
	if dsn == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(dsn, "${1}="+RedactedText)
	return credentialsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// URL removes API keys and tokens from an upstream fetch URL before it
// is logged.
func URL(u string) string {
	if u == "" {
		return ""
	}
	sanitized := apiKeyPattern.ReplaceAllString(u, "${1}="+RedactedText)
	return credentialsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// Error sanitizes an error message that might echo credentials back,
// as driver errors routinely do with full DSNs.
func Error(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return credentialsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}
