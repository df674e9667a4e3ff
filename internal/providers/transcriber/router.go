package transcriber

import (
	"context"

	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// Router prefers the local transcriber when the media is on disk and falls
// back to the remote one for URL-only media
type Router struct {
	Local  pipeline.Transcriber
	Remote pipeline.Transcriber
}

var _ pipeline.Transcriber = (*Router)(nil)

// Transcribe dispatches on where the media is
func (r *Router) Transcribe(ctx context.Context, media pipeline.MediaRef) (string, error) {
	if media.LocalPath == "" && r.Remote != nil {
		return r.Remote.Transcribe(ctx, media)
	}
	if r.Local == nil {
		return "", ErrNoMedia
	}
	return r.Local.Transcribe(ctx, media)
}
