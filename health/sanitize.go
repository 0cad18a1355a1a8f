package health

import "regexp"

// Raw errors routinely embed connection strings, filesystem layout, and
// credentials. Health endpoints are reachable by monitoring systems that
// should see none of that, so failure text is scrubbed before exposure.
//
// Replacement order matters: URLs are scrubbed before bare paths because
// a URL contains one, and ports after IPs so "10.0.0.5:4222" collapses
// to "[IP][PORT]" rather than leaving the port behind.
var sanitizeRules = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`https?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`nats://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`wss?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

// sanitizeErrorMessage scrubs sensitive fragments from failure text.
// Called by NewUnhealthyFromError; plain status messages written by the
// services themselves pass through untouched.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	for _, rule := range sanitizeRules {
		msg = rule.pattern.ReplaceAllString(msg, rule.repl)
	}
	return msg
}
