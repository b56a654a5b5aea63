package mods

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
)

// HashName returns the hex MD5 digest of s. It only names files, so
// stability across runs matters and collision resistance does not.
func HashName(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FileName returns the last path segment of u, or fallback when the segment is
// empty or would not name a file inside the staging directory.
func FileName(u *url.URL, fallback string) string {
	if u == nil {
		return fallback
	}
	name := lastSegment(u.Path)
	switch name {
	case "", ".", "..":
		return fallback
	}
	return name
}

// stagedFileName names a download of type t fetched from source. The last
// segment of source is kept only when it carries that same type, so a
// redirect target such as a CDN object key never renames a .zip or .dll.
func stagedFileName(source, original string, t FileType) string {
	fallback := fallbackFileName(original, t)
	u, err := url.Parse(source)
	if err != nil {
		return fallback
	}
	name := FileName(u, fallback)
	if classifyName(name) != t {
		return fallback
	}
	return name
}

func fallbackFileName(originalURL string, t FileType) string {
	if t == "" {
		return HashName(originalURL)
	}
	return HashName(originalURL) + "." + string(t)
}
