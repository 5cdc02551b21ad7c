package lib

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// hashLen is the number of hex characters of the URL hash embedded in derived
// local filenames.
const hashLen = 8

// CanonicalURL normalizes a raw attribute value into the absolute URL used as
// the dedup key. Protocol-relative URLs get an https scheme prepended. The
// second return value is false for values that are not downloadable: relative
// paths, fragments, data URIs, or any scheme other than http(s).
func CanonicalURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", false
	}
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "", false
	}
	return u, true
}

// ShortHash returns the first hashLen hex characters of the SHA-256 of s.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// FilenameForURL derives a deterministic local filename from a canonical URL.
// The last path segment keeps its stem and extension with a short hash of the
// full URL wedged in between, so two different URLs that share a segment name
// never collide on disk. A URL with no usable segment maps to the bare hash
// with no extension.
func FilenameForURL(canonical string) string {
	name := ""
	if parsed, err := url.Parse(canonical); err == nil {
		name = path.Base(parsed.Path)
		if name == "." || name == "/" {
			name = ""
		}
	}
	if name == "" {
		return ShortHash(canonical)
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + "-" + ShortHash(canonical) + ext
}
