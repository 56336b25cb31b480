package security

import (
	"net/url"
	"regexp"
)

type abusePattern struct {
	name string
	re   *regexp.Regexp
}

// AbuseDetector matches request material against a fixed set of
// suspicious shapes. It only reports; it never decides admission.
type AbuseDetector struct {
	patterns []abusePattern
}

// NewAbuseDetector returns a detector with the built-in pattern set.
func NewAbuseDetector() *AbuseDetector {
	return &AbuseDetector{
		patterns: []abusePattern{
			{"path_traversal", regexp.MustCompile(`(?i)\.\./|\.\.\\|%2e%2e`)},
			{"script_tag", regexp.MustCompile(`(?i)<script`)},
			{"sql_union_select", regexp.MustCompile(`(?is)\bunion\b.*\bselect\b`)},
			{"code_execution", regexp.MustCompile(`(?i)\b(eval|exec|system)\s*\(`)},
		},
	}
}

// Detect returns the names of the patterns found in any of inputs, in
// pattern order and without duplicates.
func (d *AbuseDetector) Detect(inputs ...string) []string {
	var matched []string
	for _, p := range d.patterns {
		for _, in := range inputs {
			if in != "" && p.re.MatchString(in) {
				matched = append(matched, p.name)
				break
			}
		}
	}
	return matched
}

// DetectRequest checks the raw request URI, its unescaped form and the body.
func (d *AbuseDetector) DetectRequest(requestURI string, body []byte) []string {
	inputs := []string{requestURI}
	if unescaped, err := url.QueryUnescape(requestURI); err == nil && unescaped != requestURI {
		inputs = append(inputs, unescaped)
	}
	if len(body) > 0 {
		inputs = append(inputs, string(body))
	}
	return d.Detect(inputs...)
}
