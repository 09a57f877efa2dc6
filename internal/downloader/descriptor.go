package downloader

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

type (
	// MediaDescriptor is the result of a successful video download:
	// the local file plus the metadata the strategy was able to
	// recover about the source.
	MediaDescriptor struct {
		Platform        Platform
		ID              string
		Title           string
		CreatorUsername string
		CreatorID       string
		DurationSeconds float64
		FilePath        string
	}
)

var (
	tiktokIDPattern    = regexp.MustCompile(`/video/(\d+)`)
	instagramIDPattern = regexp.MustCompile(`/(?:reel|reels|p)/([A-Za-z0-9_-]+)`)
)

// DetectPlatform inspects the URL's host to decide which platform a
// source URL belongs to.
func DetectPlatform(sourceURL string) (Platform, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", &ContentError{fmt.Sprintf("source URL is not parseable: %s", err.Error())}
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case strings.HasSuffix(host, "tiktok.com"):
		return PlatformTikTok, nil
	case strings.HasSuffix(host, "instagram.com"):
		return PlatformInstagram, nil
	}

	return "", &ContentError{fmt.Sprintf("source URL host %q is not a supported platform", host)}
}

// ExtractVideoID pulls the platform video ID out of a canonical source
// URL, if the URL carries one. Short-link formats return an empty ID;
// the downloader then trusts the strategy's reported ID instead.
func ExtractVideoID(platform Platform, sourceURL string) string {
	var pattern *regexp.Regexp
	switch platform {
	case PlatformTikTok:
		pattern = tiktokIDPattern
	case PlatformInstagram:
		pattern = instagramIDPattern
	default:
		return ""
	}

	if match := pattern.FindStringSubmatch(sourceURL); match != nil {
		return match[1]
	}

	return ""
}
