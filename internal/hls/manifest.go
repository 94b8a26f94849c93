// Package hls manages the adaptive-bitrate stream lifecycle for the
// currently selected track: debounced attach, error classification and
// retry, token recovery, and warming of upcoming queue entries.
package hls

import (
	"errors"
	"net/url"
	"strings"

	"github.com/matteo-lafrancesca/streamlayer/internal/api"
	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

var errMalformedManifest = errors.New("manifest missing #EXTM3U header")

const (
	tagHeader     = "#EXTM3U"
	tagStreamInf  = "#EXT-X-STREAM-INF"
	tagSegmentInf = "#EXTINF"
)

// Manifest is a parsed adaptive-bitrate index. A master manifest lists
// variant playlists; a media manifest lists segments. All URIs are
// absolute, resolved against the manifest's own fetch URL, with the auth
// query parameter attached.
type Manifest struct {
	URL      string
	Master   bool
	Variants []string
	Segments []string
}

// FirstResource returns the first referenced sub-resource URL, used for
// preload warming. Empty when the manifest references nothing.
func (m *Manifest) FirstResource() string {
	if len(m.Variants) > 0 {
		return m.Variants[0]
	}
	if len(m.Segments) > 0 {
		return m.Segments[0]
	}
	return ""
}

// ParseManifest parses the text manifest fetched from manifestURL.
// Relative URIs resolve against manifestURL; accessToken is attached to
// every resolved URI the same way the manifest itself was authorized.
// Malformed input is reported as a network-class stream error so the
// caller reloads the manifest from scratch.
func ParseManifest(manifestURL, body, accessToken string) (*Manifest, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != tagHeader {
		return nil, &domain.StreamError{
			Class: domain.ClassNetwork,
			Err:   errMalformedManifest,
		}
	}

	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, &domain.StreamError{Class: domain.ClassOther, Err: err}
	}

	m := &Manifest{URL: manifestURL}
	expectVariant := false
	expectSegment := false

	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, tagStreamInf) {
				m.Master = true
				expectVariant = true
			} else if strings.HasPrefix(line, tagSegmentInf) {
				expectSegment = true
			}
			continue
		}

		resolved, err := resolveURI(base, line, accessToken)
		if err != nil {
			return nil, &domain.StreamError{Class: domain.ClassNetwork, Err: err}
		}

		switch {
		case expectVariant:
			m.Variants = append(m.Variants, resolved)
			expectVariant = false
		case expectSegment:
			m.Segments = append(m.Segments, resolved)
			expectSegment = false
		default:
			// Bare URI line without a preceding tag; treat as a segment.
			m.Segments = append(m.Segments, resolved)
		}
	}

	return m, nil
}

// resolveURI makes uri absolute against base and attaches the auth query
// parameter.
func resolveURI(base *url.URL, uri, accessToken string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(ref).String()
	if accessToken == "" {
		return resolved, nil
	}
	return api.WithAuthParam(resolved, accessToken)
}
