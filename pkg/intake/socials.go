package intake

import (
	"slices"
	"strings"
)

// OtherPlatform collects tokens that name no platform.
const OtherPlatform = "other"

var platformAliases = map[string]string{
	"instagram": "instagram",
	"insta":     "instagram",
	"ig":        "instagram",
	"facebook":  "facebook",
	"fb":        "facebook",
	"twitter":   "x",
	"tw":        "x",
	"x":         "x",
	"youtube":   "youtube",
	"yt":        "youtube",
	"tiktok":    "tiktok",
	"tt":        "tiktok",
}

var platformHosts = map[string]string{
	"instagram.com": "instagram",
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"twitter.com":   "x",
	"x.com":         "x",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
}

var skipAnswers = map[string]bool{
	"": true, "none": true, "n/a": true, "na": true, "no": true, "skip": true, "-": true,
}

// ParseSocials lexes a free-text socials answer into platform -> handle.
//
// Entries are separated by commas, semicolons or newlines. Each entry is either
// "platform: handle", a profile URL, or a bare token; bare tokens and URLs of
// unknown sites are joined under "other". Repeated platforms are joined with ", ".
func ParseSocials(raw string) map[string]string {
	out := map[string]string{}
	if skipAnswers[strings.ToLower(strings.TrimSpace(raw))] {
		return out
	}
	entries := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})
	add := func(platform, handle string) {
		if handle == "" {
			return
		}
		if prev, ok := out[platform]; ok {
			if slices.Contains(strings.Split(prev, ", "), handle) {
				return
			}
			out[platform] = prev + ", " + handle
			return
		}
		out[platform] = handle
	}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if skipAnswers[strings.ToLower(entry)] {
			continue
		}
		if label, value, ok := splitLabel(entry); ok {
			platform := normalizePlatform(label)
			if p, handle, ok := parseProfileURL(value); ok && p != OtherPlatform {
				add(platform, handle)
				continue
			}
			add(platform, cleanHandle(value))
			continue
		}
		for _, word := range strings.Fields(entry) {
			if platform, handle, ok := parseProfileURL(word); ok {
				add(platform, handle)
				continue
			}
			add(OtherPlatform, cleanHandle(word))
		}
	}
	return out
}

// splitLabel recognizes "label: value" where label is a single word. URL
// schemes ("https://...") are not labels.
func splitLabel(entry string) (string, string, bool) {
	label, value, ok := strings.Cut(entry, ":")
	if !ok {
		return "", "", false
	}
	label = strings.TrimSpace(label)
	value = strings.TrimSpace(value)
	if label == "" || value == "" || strings.HasPrefix(value, "//") {
		return "", "", false
	}
	if strings.ContainsAny(label, " \t/.@") {
		return "", "", false
	}
	return label, value, true
}

func normalizePlatform(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if p, ok := platformAliases[label]; ok {
		return p
	}
	return label
}

// parseProfileURL accepts "https://www.instagram.com/grace" and bare
// "instagram.com/grace". Unknown hosts map to "other" with the URL kept whole.
func parseProfileURL(token string) (string, string, bool) {
	rest := token
	lower := strings.ToLower(rest)
	hasScheme := false
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			rest = rest[len(scheme):]
			hasScheme = true
			break
		}
	}
	host, path, _ := strings.Cut(rest, "/")
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	platform, known := platformHosts[host]
	if !known {
		if hasScheme || (strings.Contains(host, ".") && path != "") {
			return OtherPlatform, token, true
		}
		return "", "", false
	}
	segment, _, _ := strings.Cut(path, "/")
	segment, _, _ = strings.Cut(segment, "?")
	handle := cleanHandle(segment)
	if handle == "" {
		return OtherPlatform, token, true
	}
	return platform, handle, true
}

func cleanHandle(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}
