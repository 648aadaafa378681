// Package pageinfo derives coarse browser and device labels from a user agent.
package pageinfo

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	mobileRe = regexp.MustCompile(`(?i)Android|iPhone|iPod|BlackBerry|IEMobile|Opera Mini`)
	tabletRe = regexp.MustCompile(`(?i)Tablet|iPad`)
)

// Info describes the client of one tab instance.
type Info struct {
	URL       string `json:"url"`
	Host      string `json:"host"`
	Browser   string `json:"browser"`
	Device    string `json:"device"`
	UserAgent string `json:"userAgent"`
}

// DetectBrowser returns Chrome, Firefox, Safari, Edge, Opera or Unknown.
// Edge and Opera also carry the Chrome token, so they are checked first.
func DetectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg"):
		return "Edge"
	case strings.Contains(ua, "OPR") || strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	default:
		return "Unknown"
	}
}

// DetectDevice returns Tablet, Mobile or Desktop.
func DetectDevice(ua string) string {
	switch {
	case tabletRe.MatchString(ua):
		return "Tablet"
	case mobileRe.MatchString(ua):
		return "Mobile"
	default:
		return "Desktop"
	}
}

// Describe combines the labels with the instance URL.
func Describe(ua, rawURL string) Info {
	info := Info{
		URL:       rawURL,
		Browser:   DetectBrowser(ua),
		Device:    DetectDevice(ua),
		UserAgent: ua,
	}
	if u, err := url.Parse(rawURL); err == nil {
		info.Host = u.Hostname()
	}
	return info
}
