package pipeline

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// Canonicalize maps every spelling of a target to one identifier so the
// same logical target never enters the pipeline twice. URLs get scheme
// and host lowercasing, default-port and fragment removal, sorted query
// parameters, and trailing-slash trimming. Channel handles are
// lowercased with @ and t.me/ prefixes stripped.
func Canonicalize(raw string, kind TargetKind) (string, error) {
	switch kind {
	case KindPage:
		return canonicalizeURL(raw)
	case KindChannel:
		return canonicalizeHandle(raw)
	default:
		return "", fmt.Errorf("unknown target kind %q", kind)
	}
}

func canonicalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "/" {
		u.Path = ""
	}

	return u.String(), nil
}

func canonicalizeHandle(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		h = strings.TrimPrefix(h, prefix)
	}
	h = strings.TrimSuffix(h, "/")
	if !handlePattern.MatchString(h) {
		return "", fmt.Errorf("invalid channel handle %q", raw)
	}
	return h, nil
}

// ParseIdentifier classifies a raw seed string and canonicalizes it.
// Seeds prefixed with "channel:", @handles, and t.me links are channels;
// everything else is treated as a page URL.
func ParseIdentifier(raw string) (string, TargetKind, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "channel:"):
		id, err := canonicalizeHandle(strings.TrimPrefix(raw, "channel:"))
		return id, KindChannel, err
	case strings.HasPrefix(raw, "@"),
		strings.HasPrefix(raw, "t.me/"),
		strings.HasPrefix(raw, "https://t.me/"),
		strings.HasPrefix(raw, "http://t.me/"):
		id, err := canonicalizeHandle(raw)
		return id, KindChannel, err
	default:
		id, err := canonicalizeURL(raw)
		return id, KindPage, err
	}
}
