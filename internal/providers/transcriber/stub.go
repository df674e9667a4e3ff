package transcriber

import (
	"context"

	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// StubSubtitle is what Stub returns for every media
const StubSubtitle = `1
00:00:00,000 --> 00:00:02,000
Welcome back to the channel

2
00:00:02,500 --> 00:00:05,000
Today we are trying something new
`

// Stub returns a fixed subtitle without running anything
type Stub struct{}

// Transcribe returns StubSubtitle
func (Stub) Transcribe(ctx context.Context, media pipeline.MediaRef) (string, error) {
	return StubSubtitle, nil
}
