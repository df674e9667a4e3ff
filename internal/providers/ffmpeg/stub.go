package ffmpeg

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// Stub copies the input video to the output path
type Stub struct{}

// BurnSubtitles copies the input
func (Stub) BurnSubtitles(ctx context.Context, req pipeline.RenderRequest, progress pipeline.ProgressFunc) (pipeline.RenderResult, error) {
	return copyFile(req, progress)
}

// Watermark copies the input
func (Stub) Watermark(ctx context.Context, req pipeline.RenderRequest, progress pipeline.ProgressFunc) (pipeline.RenderResult, error) {
	return copyFile(req, progress)
}

func copyFile(req pipeline.RenderRequest, progress pipeline.ProgressFunc) (pipeline.RenderResult, error) {
	in, err := os.Open(req.InputPath)
	if err != nil {
		return pipeline.RenderResult{}, err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return pipeline.RenderResult{}, err
	}
	out, err := os.Create(req.OutputPath)
	if err != nil {
		return pipeline.RenderResult{}, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return pipeline.RenderResult{}, err
	}
	if progress != nil {
		progress(100)
	}
	return pipeline.RenderResult{OutputPath: req.OutputPath, SizeBytes: n}, nil
}
