package downloader

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// stubMP4 is a bare ftyp box, enough for content sniffing to call it video
var stubMP4 = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2',
	0x00, 0x00, 0x00, 0x00, 'i', 's', 'o', 'm', 'm', 'p', '4', '2',
}

// Stub writes a placeholder video instead of fetching anything
type Stub struct{}

// Download writes stubMP4 to req.DestPath
func (Stub) Download(ctx context.Context, req pipeline.DownloadRequest, progress pipeline.ProgressFunc) (pipeline.DownloadResult, error) {
	if err := os.MkdirAll(filepath.Dir(req.DestPath), 0o755); err != nil {
		return pipeline.DownloadResult{}, err
	}
	report(progress, 50)
	if err := os.WriteFile(req.DestPath, stubMP4, 0o644); err != nil {
		return pipeline.DownloadResult{}, err
	}
	report(progress, 100)
	return pipeline.DownloadResult{
		LocalPath:   req.DestPath,
		SizeBytes:   int64(len(stubMP4)),
		DownloadURL: req.SourceURL,
	}, nil
}
