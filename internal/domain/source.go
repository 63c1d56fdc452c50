package domain

import (
	"net/url"
	"path/filepath"
	"strings"
)

// DetectType infers the job type from a raw source reference.
func DetectType(raw string) JobType {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(s), "magnet:") {
		return TypeMagnet
	}
	if IsTorrentRef(s) {
		return TypeTorrent
	}
	return TypeVideo
}

// IsTorrentRef reports whether s points at a .torrent file, local or remote.
func IsTorrentRef(s string) bool {
	p := s
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Path != "" {
		p = u.Path
	}
	return strings.EqualFold(filepath.Ext(p), ".torrent")
}

// ValidateSource checks that raw is a usable reference for the job type.
func ValidateSource(raw string, t JobType) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ErrInvalidURL
	}
	switch t {
	case TypeMagnet:
		u, err := url.Parse(s)
		if err != nil || !strings.EqualFold(u.Scheme, "magnet") {
			return ErrInvalidURL
		}
		if !strings.HasPrefix(u.Query().Get("xt"), "urn:") {
			return ErrInvalidURL
		}
		return nil
	case TypeTorrent:
		if !IsTorrentRef(s) {
			return ErrInvalidURL
		}
		if u, err := url.Parse(s); err == nil && u.Scheme != "" {
			return validHTTP(s)
		}
		return nil
	case TypeVideo, TypeAudio:
		return validHTTP(s)
	}
	return ErrInvalidType
}

func validHTTP(s string) error {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
