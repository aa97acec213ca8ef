package audit

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const redactedPlaceholder = "***REDACTED***"

// redact walks the marshaled event JSON and masks any "details.*" key
// whose name contains a sensitive substring (case-insensitive), and any
// query string found in a "details" value that looks like a URL. Uses
// gjson to locate candidate paths and sjson to rewrite them in place,
// rather than hand-rolling a recursive map walker — spec.md §4.6/§7.
func redact(eventJSON []byte) ([]byte, error) {
	result := gjson.GetBytes(eventJSON, "details")
	if !result.Exists() || !result.IsObject() {
		return eventJSON, nil
	}

	out := eventJSON
	var rewriteErr error
	result.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		path := "details." + k
		if isSensitiveKey(k) {
			out, rewriteErr = sjson.SetBytes(out, path, redactedPlaceholder)
			return rewriteErr == nil
		}
		if value.Type == gjson.String {
			if redactedURL, changed := redactURLQuery(value.String()); changed {
				out, rewriteErr = sjson.SetBytes(out, path, redactedURL)
				return rewriteErr == nil
			}
		}
		return true
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}
	return out, nil
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// redactURLQuery strips the query string from value if it parses as a
// URL with a non-empty RawQuery.
func redactURLQuery(value string) (string, bool) {
	u, err := url.Parse(value)
	if err != nil || u.RawQuery == "" || u.Scheme == "" {
		return value, false
	}
	u.RawQuery = ""
	return u.String(), true
}
