package jwt

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const noneValue = "none"

// RequestInfo carries the request signals the fingerprint and automation
// detector need, decoupled from *http.Request so they're easy to build in
// tests and from behind a reverse proxy.
type RequestInfo struct {
	IP              string
	TLSVersion      string
	UserAgent       string
	AcceptLanguage  string
	AcceptEncoding  string
	Accept          string
	SecFetchSite    string
	SecFetchMode    string
	SecFetchDest    string
	Connection      string
}

// RequestInfoFromHTTP extracts RequestInfo from a live *http.Request; ip
// should already be resolved by the caller (trusted proxy chain handling is
// a gateway concern, not this package's).
func RequestInfoFromHTTP(r *http.Request, ip string) RequestInfo {
	tlsVersion := ""
	if r.TLS != nil {
		tlsVersion = tlsVersionName(r.TLS.Version)
	}
	return RequestInfo{
		IP:             ip,
		TLSVersion:     tlsVersion,
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Accept:         r.Header.Get("Accept"),
		SecFetchSite:   r.Header.Get("Sec-Fetch-Site"),
		SecFetchMode:   r.Header.Get("Sec-Fetch-Mode"),
		SecFetchDest:   r.Header.Get("Sec-Fetch-Dest"),
		Connection:     r.Header.Get("Connection"),
	}
}

func tlsVersionName(v uint16) string {
	switch v {
	case 0x0304:
		return "TLS1.3"
	case 0x0303:
		return "TLS1.2"
	case 0x0302:
		return "TLS1.1"
	case 0x0301:
		return "TLS1.0"
	default:
		return noneValue
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return noneValue
	}
	return s
}

// EnhancedFingerprint hashes the ordered concatenation of IP, TLS version,
// UA, Accept-Language, Accept-Encoding, and the Sec-Fetch-* family, with
// missing values represented by the literal "none" so the hash stays
// stable across requests missing the same headers.
func EnhancedFingerprint(info RequestInfo) string {
	parts := []string{
		orNone(info.IP),
		orNone(info.TLSVersion),
		orNone(info.UserAgent),
		orNone(info.AcceptLanguage),
		orNone(info.AcceptEncoding),
		orNone(info.SecFetchSite),
		orNone(info.SecFetchMode),
		orNone(info.SecFetchDest),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// LegacyFingerprint hashes userAgent:ip only; kept as a migration grace path
// for sessions minted before EnhancedFingerprint existed.
func LegacyFingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(orNone(userAgent) + ":" + orNone(ip)))
	return hex.EncodeToString(sum[:])
}

// HashToken returns the hex SHA-256 of raw token bytes, used as the storage
// key for refresh sessions — the token itself is never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
