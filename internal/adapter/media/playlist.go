package media

import (
	"context"
	"fmt"
	"net/url"
	"time"

	ytv2 "github.com/ytget/ytdlp/v2"
)

const playlistTimeout = 60 * time.Second

// PlaylistEntry is one video of an expanded playlist.
type PlaylistEntry struct {
	URL   string
	Title string
}

// PlaylistExpander lists the videos of a YouTube playlist.
type PlaylistExpander struct {
	timeout time.Duration
	list    func(ctx context.Context, playlistID string) ([]PlaylistEntry, error)
}

// NewPlaylistExpander creates an expander backed by the ytdlp client.
func NewPlaylistExpander() *PlaylistExpander {
	return &PlaylistExpander{timeout: playlistTimeout, list: listPlaylist}
}

// Expand returns one entry per playlist video.
func (p *PlaylistExpander) Expand(ctx context.Context, rawURL string) ([]PlaylistEntry, error) {
	id := PlaylistID(rawURL)
	if id == "" {
		return nil, fmt.Errorf("no playlist id in %q", rawURL)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	entries, err := p.list(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get playlist items: %w", err)
	}
	return entries, nil
}

// PlaylistID extracts the list= parameter from a playlist URL.
func PlaylistID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("list")
}

func listPlaylist(ctx context.Context, playlistID string) ([]PlaylistEntry, error) {
	items, err := ytv2.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]PlaylistEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, PlaylistEntry{
			URL:   "https://www.youtube.com/watch?v=" + it.VideoID,
			Title: it.Title,
		})
	}
	return entries, nil
}
