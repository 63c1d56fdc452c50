package torrent

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/cwygoda/haul/internal/domain"
)

// loadMetaInfo reads a .torrent file from disk or over HTTP(S).
func (b *Backend) loadMetaInfo(ctx context.Context, ref string) (*metainfo.MetaInfo, error) {
	lower := strings.ToLower(ref)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		mi, err := metainfo.LoadFromFile(ref)
		if err != nil {
			return nil, domain.NewResolutionError(fmt.Sprintf("bad metainfo in %s: %v", ref, err), err)
		}
		return mi, nil
	}

	resp, err := b.http.R().SetContext(ctx).Get(ref)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewNetworkError(fmt.Sprintf("fetch %s: %v", ref, err), err)
	}
	switch code := resp.StatusCode(); {
	case code >= http.StatusInternalServerError || code == http.StatusTooManyRequests:
		return nil, domain.NewNetworkError(fmt.Sprintf("fetch %s: %s", ref, resp.Status()), nil)
	case code >= http.StatusBadRequest:
		return nil, domain.NewResolutionError(fmt.Sprintf("fetch %s: %s", ref, resp.Status()), nil)
	}

	mi, err := metainfo.Load(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, domain.NewResolutionError(fmt.Sprintf("bad metainfo from %s: %v", ref, err), err)
	}
	return mi, nil
}

func describeMetaInfo(mi *metainfo.MetaInfo) (*domain.Descriptor, error) {
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, domain.NewResolutionError(fmt.Sprintf("bad metainfo: %v", err), err)
	}
	return describeInfo(&info), nil
}

func describeInfo(info *metainfo.Info) *domain.Descriptor {
	desc := &domain.Descriptor{
		Metadata:  domain.Metadata{Title: info.Name, Extractor: "bittorrent"},
		SizeBytes: info.TotalLength(),
	}
	if len(info.Files) == 0 {
		desc.Files = []string{info.Name}
		return desc
	}
	for _, f := range info.Files {
		desc.Files = append(desc.Files, strings.Join(append([]string{info.Name}, f.Path...), "/"))
	}
	return desc
}
