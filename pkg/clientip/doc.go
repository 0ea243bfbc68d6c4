// Package clientip extracts real client IP addresses from HTTP requests.
//
// It checks proxy headers in priority order to determine the actual client
// IP behind proxies, load balancers, or CDNs:
//
//  1. CF-Connecting-IP (Cloudflare)
//  2. DO-Connecting-IP (DigitalOcean)
//  3. X-Forwarded-For (leftmost entry, the originating client)
//  4. X-Real-IP (nginx and other proxies)
//  5. RemoteAddr (direct connection)
//
// All candidates are validated and normalized with net.ParseIP; malformed
// headers are silently skipped and the unspecified address is rejected.
// GetIP never panics and always returns a string, falling back to the raw
// RemoteAddr when nothing better is available.
//
//	ip := clientip.GetIP(r)
//
// The extracted IP is the basis for the middleware package's anonymized
// rate limit key for unauthenticated callers.
package clientip
