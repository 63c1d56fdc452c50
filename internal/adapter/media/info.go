package media

import (
	"encoding/json"
	"fmt"

	"github.com/cwygoda/haul/internal/domain"
)

type ytFormat struct {
	FormatID       string `json:"format_id"`
	Ext            string `json:"ext"`
	Resolution     string `json:"resolution"`
	FormatNote     string `json:"format_note"`
	Filesize       int64  `json:"filesize"`
	FilesizeApprox int64  `json:"filesize_approx"`
}

type ytInfo struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Thumbnail      string     `json:"thumbnail"`
	WebpageURL     string     `json:"webpage_url"`
	Extractor      string     `json:"extractor_key"`
	Filesize       int64      `json:"filesize"`
	FilesizeApprox int64      `json:"filesize_approx"`
	Formats        []ytFormat `json:"formats"`
}

// ParseInfo converts yt-dlp --dump-single-json output into a descriptor.
func ParseInfo(data []byte) (*domain.Descriptor, error) {
	var info ytInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, domain.NewResolutionError(fmt.Sprintf("parse yt-dlp info: %v", err), err)
	}
	if info.ID == "" && info.Title == "" {
		return nil, domain.NewResolutionError("yt-dlp returned no media info", nil)
	}

	desc := &domain.Descriptor{
		Metadata: domain.Metadata{
			Title:        info.Title,
			ThumbnailURL: info.Thumbnail,
			WebpageURL:   info.WebpageURL,
			Extractor:    info.Extractor,
		},
		SizeBytes: sizeOf(info.Filesize, info.FilesizeApprox),
	}
	for _, f := range info.Formats {
		desc.Formats = append(desc.Formats, domain.Format{
			ID:         f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			Note:       f.FormatNote,
			SizeBytes:  sizeOf(f.Filesize, f.FilesizeApprox),
		})
	}
	return desc, nil
}

func sizeOf(exact, approx int64) int64 {
	if exact > 0 {
		return exact
	}
	return approx
}
