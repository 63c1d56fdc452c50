package media

import (
	"fmt"

	id3v2 "github.com/bogem/id3v2/v2"

	"github.com/cwygoda/haul/internal/domain"
)

// writeTags stores the job's title and source in the file's ID3v2.4 tag.
func writeTags(path string, job *domain.Job) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open mp3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	if job.Title != "" {
		tag.SetTitle(job.Title)
	}
	if job.Extractor != "" {
		tag.SetArtist(job.Extractor)
	}
	source := job.WebpageURL
	if source == "" {
		source = job.URL
	}
	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding:    id3v2.EncodingUTF8,
		Language:    "eng",
		Description: "Source",
		Text:        source,
	})

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save tags: %w", err)
	}
	return nil
}
