package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Proxy headers in priority order. CDN-set headers are trusted over the
// generic forwarding headers because they are harder to spoof end to end.
var headerPriority = []string{
	"CF-Connecting-IP",
	"DO-Connecting-IP",
	"X-Forwarded-For",
	"X-Real-IP",
}

// GetIP extracts the real client IP address from the request, checking
// proxy headers in priority order and falling back to RemoteAddr. The
// returned value is a validated, normalized IP string; if no valid IP can
// be determined the raw RemoteAddr is returned as-is.
func GetIP(r *http.Request) string {
	for _, header := range headerPriority {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}

		// X-Forwarded-For may contain a chain "client, proxy1, proxy2";
		// the leftmost entry is the originating client.
		if header == "X-Forwarded-For" {
			if idx := strings.IndexByte(value, ','); idx >= 0 {
				value = value[:idx]
			}
		}

		if ip := normalize(value); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := normalize(host); ip != "" {
		return ip
	}

	return r.RemoteAddr
}

// normalize validates and canonicalizes an IP string. Returns "" for
// invalid input and for the unspecified addresses 0.0.0.0 and ::,
// which indicate no usable client IP.
func normalize(value string) string {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}
