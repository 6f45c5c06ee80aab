package redirect

import (
	"context"
	"strings"
)

// GeoResolver maps a client IP to a coarse location. Implementations are
// pluggable; a nil resolver disables geo enrichment.
type GeoResolver interface {
	Lookup(ctx context.Context, ip string) (country, city string, err error)
}

// uaInfo is the device classification derived from a User-Agent string.
type uaInfo struct {
	DeviceType string
	Browser    string
	OS         string
}

// parseUA classifies a User-Agent by substring sniffing. Unknown dimensions
// come back as "unknown" so the analytics store always has a key.
func parseUA(ua string) uaInfo {
	info := uaInfo{DeviceType: "desktop", Browser: "unknown", OS: "unknown"}
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "edg/"):
		info.Browser = "Edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		info.Browser = "Opera"
	case strings.Contains(lower, "chrome/"):
		info.Browser = "Chrome"
	case strings.Contains(lower, "safari/") && strings.Contains(lower, "version/"):
		info.Browser = "Safari"
	case strings.Contains(lower, "firefox/"):
		info.Browser = "Firefox"
	}

	switch {
	case strings.Contains(lower, "windows"):
		info.OS = "Windows"
	case strings.Contains(lower, "android"):
		info.OS = "Android"
	// iPhone UAs carry "like Mac OS X", so iOS is sniffed before macOS.
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"), strings.Contains(lower, "ios"):
		info.OS = "iOS"
	case strings.Contains(lower, "mac os"):
		info.OS = "macOS"
	case strings.Contains(lower, "linux"):
		info.OS = "Linux"
	}

	switch {
	case strings.Contains(lower, "bot"), strings.Contains(lower, "crawler"), strings.Contains(lower, "spider"):
		info.DeviceType = "bot"
	case strings.Contains(lower, "tablet"), strings.Contains(lower, "ipad"):
		info.DeviceType = "tablet"
	case strings.Contains(lower, "mobile"):
		info.DeviceType = "mobile"
	}
	return info
}
