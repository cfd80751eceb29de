package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/lumisync-core/internal/engine/music"
)

func TestScreenArgs(t *testing.T) {
	args := ScreenArgs(ScreenConfig{
		Binary:  "ffmpeg",
		Display: ":0.0+0,0",
		Width:   1920,
		Height:  1080,
		FPS:     30,
		Args:    []string{"-vf", "scale=192:108"},
	})

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "x11grab",
		"-video_size", "1920x1080",
		"-framerate", "30",
		"-i", ":0.0+0,0",
		"-vf", "scale=192:108",
		"-f", "rawvideo", "-pix_fmt", "rgb24", "-",
	}, args)
}

func TestScreenConfig_Validate(t *testing.T) {
	valid := ScreenConfig{Binary: "ffmpeg", Width: 640, Height: 480, FPS: 30}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*ScreenConfig)
	}{
		{name: "no binary", mutate: func(c *ScreenConfig) { c.Binary = "" }},
		{name: "no width", mutate: func(c *ScreenConfig) { c.Width = 0 }},
		{name: "negative output", mutate: func(c *ScreenConfig) { c.OutHeight = -1 }},
		{name: "no fps", mutate: func(c *ScreenConfig) { c.FPS = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestAudioArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  AudioConfig
		want []string
	}{
		{
			name: "parec",
			cfg:  AudioConfig{Binary: "parec", SampleRate: 48000, BufferMillis: 10, Device: "alsa_output.monitor"},
			want: []string{"--raw", "--format=s16le", "--channels=1", "--rate=48000",
				"--latency-msec=10", "--device=alsa_output.monitor"},
		},
		{
			name: "arecord",
			cfg:  AudioConfig{Binary: "/usr/bin/arecord", SampleRate: 44100, BufferMillis: 20, Args: []string{"-B", "20000"}},
			want: []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", "44100", "-B", "20000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AudioArgs(tt.cfg))
		})
	}
}

func TestAudioConfig_Validate(t *testing.T) {
	assert.NoError(t, AudioConfig{Binary: "parec", SampleRate: 48000, BufferMillis: 10}.Validate())
	assert.ErrorIs(t, AudioConfig{SampleRate: 48000, BufferMillis: 10}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, AudioConfig{Binary: "parec", SampleRate: 100, BufferMillis: 10}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, AudioConfig{Binary: "parec", SampleRate: 48000}.Validate(), ErrInvalidConfig)

	_, err := NewAudio(AudioConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDecodeS16LE(t *testing.T) {
	raw := []byte{
		0x00, 0x00, // 0
		0xff, 0x7f, // 32767
		0x00, 0x80, // -32768
		0x00, 0x40, // 16384
	}
	got := decodeS16LE(raw)
	require.Len(t, got, 4)
	assert.Equal(t, float32(0), got[0])
	assert.InDelta(t, 1.0, got[1], 0.0001)
	assert.Equal(t, float32(-1), got[2])
	assert.Equal(t, float32(0.5), got[3])
}

func TestReadFrames(t *testing.T) {
	stream := []byte{
		255, 0, 0, 0, 0, 255, // frame 1: red, blue
		0, 255, 0, 9, 9, 9, // frame 2: green, grey
	}

	var frames []*image.RGBA
	err := readFrames(bytes.NewReader(stream), 2, 1, func(img *image.RGBA) {
		frames = append(frames, img)
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, color.RGBA{R: 255, A: 255}, frames[0].RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, frames[0].RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, frames[1].RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 9, G: 9, B: 9, A: 255}, frames[1].RGBAAt(1, 0))
}

func TestReadFrames_Truncated(t *testing.T) {
	calls := 0
	err := readFrames(bytes.NewReader([]byte{1, 2, 3, 4}), 2, 1, func(*image.RGBA) { calls++ })
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Zero(t, calls)
}

func TestScreen_CapturesFromHelper(t *testing.T) {
	s := newScreen(2, 1, 0, "/bin/sh", []string{"-c", `printf '\377\000\000\000\377\000'; sleep 5`})
	_, err := s.Capture(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	img, err := s.Capture(ctx)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
	r, g, b, _ = img.At(1, 0).RGBA()
	assert.Equal(t, [3]uint32{0, 0xffff, 0}, [3]uint32{r, g, b})
	assert.Equal(t, uint64(1), s.Frames())

	require.NoError(t, s.Close())
	_, err = s.Capture(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScreen_HelperExitsWithoutFrames(t *testing.T) {
	s := newScreen(2, 1, 0, "/bin/sh", []string{"-c", "exit 3"})
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Capture(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScreen_MissingBinary(t *testing.T) {
	s := newScreen(2, 1, 0, "/nonexistent/ffmpeg", nil)
	require.Error(t, s.Start(context.Background()))

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAudio_ReadsBuffersThenEOF(t *testing.T) {
	// 1920 bytes of silence is two 480-sample buffers.
	a := newAudio(48000, 480, 0, "/bin/sh", []string{"-c", "head -c 1920 /dev/zero"})
	_, err := a.Read(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 2 {
		buf, err := a.Read(ctx)
		require.NoError(t, err, "buffer %d", i)
		assert.Len(t, buf.Samples, 480)
		assert.Equal(t, 48000, buf.SampleRate)
	}
	_, err = a.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestAudio_ReadHonoursContext(t *testing.T) {
	a := newAudio(48000, 480, 0, "/bin/sleep", []string{"10"})
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Read(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAudio_DropsOldestWhenBehind(t *testing.T) {
	a := newAudio(48000, 1, 0, "/bin/true", nil)
	for i := range audioQueueDepth + 3 {
		a.push(musicBuffer(float32(i)))
	}
	assert.Equal(t, uint64(3), a.Dropped())

	first := <-a.buffers
	assert.Equal(t, float32(3), first.Samples[0])
}

func musicBuffer(v float32) music.Buffer {
	return music.Buffer{Samples: []float32{v}, SampleRate: 48000}
}
