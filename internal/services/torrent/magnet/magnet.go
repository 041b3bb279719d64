// Package magnet builds magnet URIs for content hashes.
package magnet

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"streamgate/internal/domain"
)

// TrackerListVersion identifies the tracker set appended by WithTrackers.
// Bump it whenever DefaultTrackers changes.
const TrackerListVersion = "2024.1"

var DefaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.openbittorrent.com:6969/announce",
	"udp://open.demonii.com:1337/announce",
	"udp://explodie.org:6969/announce",
	"udp://tracker.tiny-vps.com:6969/announce",
	"udp://tracker.moeking.me:6969/announce",
	"udp://p4p.arenabg.com:1337/announce",
	"https://tracker.tamersunion.org:443/announce",
	"http://tracker.opentrackr.org:1337/announce",
}

func Build(hash domain.ContentHash, displayName string) string {
	h := domain.NormalizeHash(string(hash))
	if h == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("magnet:?xt=urn:btih:")
	builder.WriteString(string(h))
	if name := strings.TrimSpace(displayName); name != "" {
		builder.WriteString("&dn=")
		builder.WriteString(url.QueryEscape(norm.NFC.String(name)))
	}
	return builder.String()
}

func WithTrackers(uri string) string {
	return appendTrackers(uri, DefaultTrackers)
}

func appendTrackers(uri string, trackers []string) string {
	if uri == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString(uri)
	for _, tracker := range trackers {
		value := strings.TrimSpace(tracker)
		if value == "" {
			continue
		}
		builder.WriteString("&tr=")
		builder.WriteString(url.QueryEscape(value))
	}
	return builder.String()
}

// ValidHash reports whether raw names a v1 info-hash in hex or base32 form.
func ValidHash(raw string) bool {
	return domain.NormalizeHash(raw).Valid()
}
