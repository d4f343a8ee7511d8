package fingerprint_test

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/MagnunAVF/smllr/internal"
	"github.com/MagnunAVF/smllr/internal/fingerprint"
)

const (
	uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaAndroidPhone  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaAndroidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X700 Build/TP1A) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Tablet Safari/537.36"
	uaMac           = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
)

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    http.Header
		remoteAddr string
		want       string
	}{
		{"forwarded single", headers("X-Forwarded-For", "203.0.113.7"), "10.0.0.1:4000", "203.0.113.7"},
		{"forwarded chain takes first", headers("X-Forwarded-For", "203.0.113.7, 10.1.1.1, 10.2.2.2"), "10.0.0.1:4000", "203.0.113.7"},
		{"header name is case-insensitive", headers("x-forwarded-for", "198.51.100.2"), "", "198.51.100.2"},
		{"empty forwarded falls back", headers("X-Forwarded-For", ""), "10.0.0.1:4000", "10.0.0.1"},
		{"blank first hop falls back", headers("X-Forwarded-For", " ,10.1.1.1"), "10.0.0.1:4000", "10.0.0.1"},
		{"remote without port", nil, "10.0.0.9", "10.0.0.9"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"nothing known", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.headers
			if h == nil {
				h = http.Header{}
			}
			assert.Equal(t, tt.want, fingerprint.ClientIP(h, tt.remoteAddr))
		})
	}
}

func TestExtract_DeviceType(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"windows chrome", uaChromeWindows, internal.DeviceDesktop},
		{"mac safari", uaMac, internal.DeviceDesktop},
		{"iphone", uaIPhone, internal.DeviceMobile},
		{"ipad", uaIPad, internal.DeviceTablet},
		{"android phone", uaAndroidPhone, internal.DeviceMobile},
		{"android tablet marker", uaAndroidTablet, internal.DeviceTablet},
		{"empty", "", internal.DeviceDesktop},
		{"garbage", "%%%not a user agent%%%", internal.DeviceDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := fingerprint.Extract(headers("User-Agent", tt.ua), "")
			assert.Equal(t, tt.want, fp.DeviceType)
			assert.Equal(t, tt.ua, fp.UserAgent)
		})
	}
}

func TestExtract_BrowserAndOS(t *testing.T) {
	fp := fingerprint.Extract(headers("User-Agent", uaChromeWindows), "")

	assert.Equal(t, "Chrome", fp.BrowserName)
	assert.Equal(t, "120.0.0.0", fp.BrowserVersion)
	assert.Contains(t, fp.OS, "Windows")
}

func TestExtract_Referrer(t *testing.T) {
	fp := fingerprint.Extract(headers("Referer", "https://t.co/xyz"), "")
	assert.Equal(t, "https://t.co/xyz", fp.Referrer)

	direct := fingerprint.Extract(http.Header{}, "")
	assert.Equal(t, "", direct.Referrer, "direct traffic has an empty referrer")
	assert.Equal(t, "", direct.Data["referrer"])
}

func TestExtract_DataCapturesAllFields(t *testing.T) {
	fp := fingerprint.Extract(headers(
		"User-Agent", uaIPhone,
		"X-Forwarded-For", "203.0.113.7",
		"Referer", "https://instagram.com/",
	), "10.0.0.1:1234")

	assert.Equal(t, fp.IPAddress, fp.Data["ip_address"])
	assert.Equal(t, fp.UserAgent, fp.Data["user_agent"])
	assert.Equal(t, fp.BrowserName, fp.Data["browser_name"])
	assert.Equal(t, fp.OS, fp.Data["os"])
	assert.Equal(t, fp.DeviceType, fp.Data["device_type"])
	assert.Equal(t, "https://instagram.com/", fp.Data["referrer"])
	assert.Equal(t, "false", fp.Data["bot"])
	assert.Zero(t, fp.ID, "ids are assigned by the store")
}

func TestExtract_InvalidBytesAreStorable(t *testing.T) {
	tests := []struct {
		name    string
		headers http.Header
	}{
		{"invalid utf-8 agent", headers("User-Agent", "\xff\xfe((;;")},
		{"nul in agent", headers("User-Agent", "Mozilla/5.0\x00 (X11)")},
		{"nul and invalid referrer", headers("Referer", "https://a.example/\x00\xc3\x28")},
		{"invalid forwarded for", headers("X-Forwarded-For", "\xff10.0.0.1\x00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := fingerprint.Extract(tt.headers, "10.0.0.1:1234")

			fields := map[string]string{
				"ip":       fp.IPAddress,
				"ua":       fp.UserAgent,
				"browser":  fp.BrowserName,
				"version":  fp.BrowserVersion,
				"os":       fp.OS,
				"device":   fp.DeviceType,
				"referrer": fp.Referrer,
			}
			for k, v := range fp.Data {
				fields["data."+k] = v
			}
			for name, v := range fields {
				assert.True(t, utf8.ValidString(v), "%s is not valid utf-8: %q", name, v)
				assert.False(t, strings.ContainsRune(v, 0), "%s contains NUL: %q", name, v)
			}
		})
	}
}

func TestExtract_UnparseableAgentHasNoBrowser(t *testing.T) {
	fp := fingerprint.Extract(headers("User-Agent", "\xff\xfe((;;"), "")

	assert.Empty(t, fp.BrowserName)
	assert.Empty(t, fp.BrowserVersion)
	assert.Equal(t, "((;;", fp.UserAgent)
	assert.Equal(t, internal.DeviceDesktop, fp.DeviceType)
}
