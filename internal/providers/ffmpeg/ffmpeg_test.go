package ffmpeg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/providers/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sub = "1\n00:00:00,000 --> 00:00:01,000\nHi\n"

// fakeFFmpeg answers ffprobe with a 10s duration and makes ffmpeg write its
// output file after emitting progress lines
type fakeFFmpeg struct {
	calls     []command.Command
	probeErr  error
	renderErr error
	srtSeen   string
}

func (f *fakeFFmpeg) Run(ctx context.Context, cmd command.Command) (command.Result, error) {
	f.calls = append(f.calls, cmd)
	switch cmd.Name {
	case "ffprobe":
		if f.probeErr != nil {
			return command.Result{}, f.probeErr
		}
		return command.Result{Stdout: "10.000000\n"}, nil
	case "ffmpeg":
		for _, a := range cmd.Args {
			if strings.HasPrefix(a, "subtitles=") {
				path := strings.TrimPrefix(a, "subtitles=")
				path = path[:strings.Index(path, ":force_style")]
				data, _ := os.ReadFile(path)
				f.srtSeen = string(data)
			}
		}
		for _, line := range []string{"frame=10", "out_time_us=2500000", "out_time_us=5000000", "out_time_us=junk", "out_time_us=12000000", "progress=end"} {
			cmd.OnLine(line)
		}
		if f.renderErr != nil {
			return command.Result{ExitCode: 1}, f.renderErr
		}
		out := cmd.Args[len(cmd.Args)-1]
		return command.Result{}, os.WriteFile(out, []byte("rendered"), 0o644)
	}
	return command.Result{}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func input(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "in.mp4")
	require.NoError(t, os.WriteFile(p, []byte("video"), 0o644))
	return p
}

func TestBurnSubtitles(t *testing.T) {
	fake := &fakeFFmpeg{}
	r := NewRenderer("ffmpeg", "ffprobe", fake, discard())
	out := filepath.Join(t.TempDir(), "renders", "out.mp4")

	var seen []int
	res, err := r.BurnSubtitles(context.Background(), pipeline.RenderRequest{
		InputPath:    input(t),
		OutputPath:   out,
		SubtitleText: sub,
		FontSize:     30,
	}, func(p int) { seen = append(seen, p) })
	require.NoError(t, err)

	assert.Equal(t, out, res.OutputPath)
	assert.Equal(t, int64(len("rendered")), res.SizeBytes)
	assert.Equal(t, sub, fake.srtSeen)
	assert.Equal(t, []int{25, 50, 99, 100}, seen)

	require.Len(t, fake.calls, 2)
	args := strings.Join(fake.calls[1].Args, " ")
	assert.Contains(t, args, "FontSize=30")
	assert.Contains(t, args, "-progress pipe:1")
}

func TestBurnRequiresText(t *testing.T) {
	r := NewRenderer("ffmpeg", "ffprobe", &fakeFFmpeg{}, discard())
	_, err := r.BurnSubtitles(context.Background(), pipeline.RenderRequest{InputPath: input(t), OutputPath: "x.mp4"}, nil)
	assert.Error(t, err)
}

func TestWatermarkPositions(t *testing.T) {
	for name, expr := range positions {
		t.Run(name, func(t *testing.T) {
			fake := &fakeFFmpeg{}
			r := NewRenderer("ffmpeg", "ffprobe", fake, discard())
			_, err := r.Watermark(context.Background(), pipeline.RenderRequest{
				InputPath:   input(t),
				OutputPath:  filepath.Join(t.TempDir(), "out.mp4"),
				OverlayPath: "/logos/logo.png",
				Position:    name,
			}, nil)
			require.NoError(t, err)
			args := strings.Join(fake.calls[1].Args, " ")
			assert.Contains(t, args, "-i /logos/logo.png")
			assert.Contains(t, args, "overlay="+expr)
		})
	}
}

func TestWatermarkDefaultsAndErrors(t *testing.T) {
	fake := &fakeFFmpeg{}
	r := NewRenderer("ffmpeg", "ffprobe", fake, discard())
	_, err := r.Watermark(context.Background(), pipeline.RenderRequest{
		InputPath: input(t), OutputPath: filepath.Join(t.TempDir(), "out.mp4"), OverlayPath: "/logo.png",
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(fake.calls[1].Args, " "), "overlay=W-w-10:H-h-10")

	_, err = r.Watermark(context.Background(), pipeline.RenderRequest{InputPath: input(t), OutputPath: "o.mp4", OverlayPath: "/logo.png", Position: "upside-down"}, nil)
	assert.Error(t, err)

	_, err = r.Watermark(context.Background(), pipeline.RenderRequest{InputPath: input(t), OutputPath: "o.mp4"}, nil)
	assert.Error(t, err)
}

func TestRenderFailureRemovesOutput(t *testing.T) {
	fake := &fakeFFmpeg{renderErr: &command.Error{Name: "ffmpeg", ExitCode: 1, Stderr: "Invalid data"}}
	r := NewRenderer("ffmpeg", "ffprobe", fake, discard())
	out := filepath.Join(t.TempDir(), "out.mp4")
	_, err := r.BurnSubtitles(context.Background(), pipeline.RenderRequest{InputPath: input(t), OutputPath: out, SubtitleText: sub}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data")
	assert.NoFileExists(t, out)
}

func TestRenderWithoutDurationSkipsProgress(t *testing.T) {
	fake := &fakeFFmpeg{probeErr: &command.Error{Name: "ffprobe", ExitCode: 1}}
	r := NewRenderer("ffmpeg", "ffprobe", fake, discard())
	var seen []int
	_, err := r.BurnSubtitles(context.Background(), pipeline.RenderRequest{
		InputPath: input(t), OutputPath: filepath.Join(t.TempDir(), "out.mp4"), SubtitleText: sub,
	}, func(p int) { seen = append(seen, p) })
	require.NoError(t, err)
	assert.Equal(t, []int{100}, seen)
}

func TestMissingInput(t *testing.T) {
	r := NewRenderer("ffmpeg", "ffprobe", &fakeFFmpeg{}, discard())
	_, err := r.BurnSubtitles(context.Background(), pipeline.RenderRequest{InputPath: "/nope.mp4", OutputPath: "o.mp4", SubtitleText: sub}, nil)
	assert.Error(t, err)
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `/tmp/a\\:b`, escapeFilterPath("/tmp/a:b"))
	assert.Equal(t, "/tmp/plain.srt", escapeFilterPath("/tmp/plain.srt"))
}

func TestStubCopies(t *testing.T) {
	in := input(t)
	out := filepath.Join(t.TempDir(), "r", "out.mp4")
	res, err := Stub{}.Watermark(context.Background(), pipeline.RenderRequest{InputPath: in, OutputPath: out}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.SizeBytes)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
}
