// Package fingerprint derives a visitor snapshot from request headers.
package fingerprint

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mssola/useragent"

	"github.com/MagnunAVF/smllr/internal"
)

const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderUserAgent    = "User-Agent"
	HeaderReferer      = "Referer"
)

var (
	tabletMarkers = []string{"ipad", "tablet"}
	phoneMarkers  = []string{"iphone", "android", "mobile"}
)

// Extract builds a Fingerprint from headers and the direct peer address. It
// does no I/O and never fails: unparseable input leaves fields empty.
func Extract(headers http.Header, remoteAddr string) internal.Fingerprint {
	raw := clean(headers.Get(HeaderUserAgent))
	ua := useragent.New(raw)

	browser, version := ua.Browser()
	browser, version = clean(browser), clean(version)
	// unparseable agents come back as their own product token, with no version
	if version == "" {
		browser = ""
	}
	platform := clean(ua.Platform())
	os := clean(ua.OS())

	fp := internal.Fingerprint{
		IPAddress:      clean(ClientIP(headers, remoteAddr)),
		UserAgent:      raw,
		BrowserName:    browser,
		BrowserVersion: version,
		OS:             os,
		DeviceType:     DeviceType(platform, os, raw),
		Referrer:       clean(headers.Get(HeaderReferer)),
	}
	fp.Data = map[string]string{
		"ip_address":      fp.IPAddress,
		"user_agent":      fp.UserAgent,
		"browser_name":    fp.BrowserName,
		"browser_version": fp.BrowserVersion,
		"os":              fp.OS,
		"platform":        platform,
		"device_type":     fp.DeviceType,
		"referrer":        fp.Referrer,
		"bot":             strconv.FormatBool(ua.Bot()),
	}
	return fp
}

// ClientIP prefers the first X-Forwarded-For hop, then the peer address.
func ClientIP(headers http.Header, remoteAddr string) string {
	if fwd := headers.Get(HeaderForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// DeviceType is a best-effort classification; anything ambiguous is Desktop.
func DeviceType(platform, os, rawUA string) string {
	signals := strings.ToLower(platform + " " + os)
	if containsAny(signals, tabletMarkers) || strings.Contains(strings.ToLower(rawUA), "tablet") {
		return internal.DeviceTablet
	}
	if containsAny(signals, phoneMarkers) {
		return internal.DeviceMobile
	}
	return internal.DeviceDesktop
}

// clean makes header text storable: Postgres text and jsonb reject invalid
// UTF-8 and NUL.
func clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
