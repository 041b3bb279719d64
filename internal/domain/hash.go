package domain

import "strings"

// ContentHash is the canonical torrent identifier: a lower-case hex info-hash.
type ContentHash string

func NormalizeHash(raw string) ContentHash {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(strings.ToLower(value), "urn:btih:")
	return ContentHash(value)
}

// Valid accepts 40-char hex (v1) and 32-char base32 info-hashes.
func (h ContentHash) Valid() bool {
	switch len(h) {
	case 40:
		for _, c := range h {
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
				return false
			}
		}
		return true
	case 32:
		for _, c := range h {
			if !(c >= 'a' && c <= 'z' || c >= '2' && c <= '7') {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (h ContentHash) String() string {
	return string(h)
}
