package realtime

import (
	"fmt"
	"net/url"
)

// appendParams appends params to rawURL as query parameters, replacing any
// existing value for the same key. Encoding sorts keys, so the result is
// deterministic. An empty params map returns rawURL unchanged.
func appendParams(rawURL string, params map[string]any) string {
	if len(params) == 0 {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	for key, value := range params {
		query.Set(key, fmt.Sprint(value))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
