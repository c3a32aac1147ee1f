package util

import (
	"crypto/subtle"
	"encoding/base64"
	"net"
	"net/http"
	"strings"
)

// VerifyAPIKey accepts either "Bearer <key>" or HTTP basic auth with the key
// as the password, which is what Home Assistant's rest_command sends.
// Websocket clients in a browser cannot set headers, so the key may also
// come as the access_token query parameter.
func VerifyAPIKey(r *http.Request, apiKey string, allowInsecureHTTP bool) bool {
	password, ok := credentialFromHeader(r.Header.Get("Authorization"))
	if !ok {
		password = r.URL.Query().Get("access_token")
	}
	if password == "" || apiKey == "" {
		return false
	}

	// Enforce HTTPS for non-local connections unless explicitly allowed
	if !allowInsecureHTTP && !IsSecure(r) && !isLocalIP(GetClientIP(r)) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(password), []byte(apiKey)) == 1
}

// IsSecure reports whether the request arrived over TLS, directly or
// through a proxy that sets X-Forwarded-Proto.
func IsSecure(r *http.Request) bool {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto == "https"
	}
	return r.TLS != nil
}

// isLocalIP treats loopback and private IPv4 addresses as local.
func isLocalIP(addr string) bool {
	if addr == "" || addr == "localhost" {
		return true
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	return ip.To4() != nil && ip.IsPrivate()
}

func credentialFromHeader(auth string) (string, bool) {
	switch {
	case strings.HasPrefix(auth, "Bearer "):
		return strings.TrimPrefix(auth, "Bearer "), true
	case strings.HasPrefix(auth, "Basic "):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
		if err != nil {
			return "", false
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 {
			return "", false
		}
		return parts[1], true
	default:
		return "", false
	}
}

func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

func IsLocalhost(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}
	return parsedIP.IsLoopback()
}

func GetLANIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}

	return ""
}
