package monitor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/frame"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// fakeScreen serves a fixed image, or a scripted sequence of results.
type fakeScreen struct {
	mu      sync.Mutex
	img     image.Image
	err     error
	calls   int
	failAt  map[int]error
	swapped image.Image
	swapAt  int
}

func (s *fakeScreen) Capture(context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.failAt[s.calls]; ok {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.swapped != nil && s.calls >= s.swapAt {
		return s.swapped, nil
	}
	return s.img, nil
}

func (s *fakeScreen) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeScreen) captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSink stores every frame sent.
type recordingSink struct {
	mu     sync.Mutex
	frames []frame.Frame
	err    error
}

func (s *recordingSink) Send(_ string, cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	seg, ok := cmd.(protocol.SetSegments)
	if !ok {
		return errors.New("unexpected command")
	}
	s.frames = append(s.frames, frame.Frame(seg.Colors))
	return nil
}

func (s *recordingSink) sent() []frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Frame(nil), s.frames...)
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// quadrantImage paints the left half red and the right half blue.
func quadrantImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= w/2 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func waitStopped(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestPerimeterLayout(t *testing.T) {
	regions := PerimeterLayout(image.Rect(0, 0, 1920, 1080))
	require.Len(t, regions, PerimeterZones)
	require.NoError(t, ValidateRegions(regions, image.Rect(0, 0, 1920, 1080)))

	want := []image.Rectangle{
		image.Rect(1440, 0, 1920, 540),
		image.Rect(960, 0, 1440, 540),
		image.Rect(480, 0, 960, 540),
		image.Rect(0, 0, 480, 540),
		image.Rect(0, 540, 480, 810),
		image.Rect(0, 810, 480, 1080),
		image.Rect(480, 810, 960, 1080),
		image.Rect(960, 810, 1440, 1080),
		image.Rect(1440, 810, 1920, 1080),
		image.Rect(1440, 540, 1920, 810),
	}
	for i, r := range regions {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, want[i], r.Rect, "zone %d", i)
	}
}

func TestPerimeterLayout_Offset(t *testing.T) {
	bounds := image.Rect(1920, 0, 3840, 1080)
	regions := PerimeterLayout(bounds)
	require.NoError(t, ValidateRegions(regions, bounds))
	assert.Equal(t, image.Rect(1920, 0, 2400, 540), regions[3].Rect)
}

func TestValidateRegions(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	tests := []struct {
		name    string
		regions []Region
		want    error
	}{
		{"ok", []Region{{0, image.Rect(0, 0, 10, 10)}, {1, image.Rect(90, 90, 100, 100)}}, nil},
		{"none", nil, engine.ErrInvalidConfig},
		{"duplicate index", []Region{{0, image.Rect(0, 0, 10, 10)}, {0, image.Rect(10, 10, 20, 20)}}, engine.ErrInvalidConfig},
		{"negative index", []Region{{-1, image.Rect(0, 0, 10, 10)}}, engine.ErrInvalidConfig},
		{"empty rect", []Region{{0, image.Rect(5, 5, 5, 10)}}, engine.ErrInvalidConfig},
		{"outside bounds", []Region{{0, image.Rect(50, 50, 150, 60)}}, engine.ErrCaptureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegions(tt.regions, bounds)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSample_Deterministic(t *testing.T) {
	img := quadrantImage(40, 20)
	regions := []Region{
		{Index: 0, Rect: image.Rect(0, 0, 20, 20)},
		{Index: 2, Rect: image.Rect(20, 0, 40, 20)},
		{Index: 1, Rect: image.Rect(10, 0, 30, 20)},
	}

	got := Sample(img, regions)
	assert.Equal(t, frame.Frame{
		{R: 255},
		{R: 127, B: 127},
		{B: 255},
	}, got)
	assert.Equal(t, got, Sample(img, regions))

	// The generic path agrees with the RGBA fast path.
	nrgba := image.NewNRGBA(img.Bounds())
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			nrgba.Set(x, y, img.At(x, y))
		}
	}
	assert.Equal(t, got, Sample(nrgba, regions))
}

func TestEngine_SolidColorScaledByBrightness(t *testing.T) {
	screen := &fakeScreen{img: solidImage(64, 48, color.RGBA{R: 200, G: 100, B: 40, A: 255})}
	sink := &recordingSink{}

	e, err := New(Config{DeviceID: "dev", FPS: 50, Brightness: 50}, screen, sink)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop() //nolint:errcheck // test cleanup

	require.Eventually(t, func() bool { return len(sink.sent()) >= 3 }, 2*time.Second, 5*time.Millisecond)

	want := frame.Solid(PerimeterZones, protocol.RGB{R: 100, G: 50, B: 20})
	for _, f := range sink.sent() {
		assert.Equal(t, want, f)
	}
	assert.Equal(t, want, e.LastFrame())
	assert.Equal(t, engine.Running, e.State())
}

func TestEngine_Smoothing(t *testing.T) {
	screen := &fakeScreen{
		img:     solidImage(8, 8, color.RGBA{A: 255}),
		swapped: solidImage(8, 8, color.RGBA{R: 200, A: 255}),
		swapAt:  2,
	}
	sink := &recordingSink{}
	regions := []Region{{Index: 0, Rect: image.Rect(0, 0, 8, 8)}}

	e, err := New(Config{DeviceID: "dev", FPS: 50, Brightness: 100, Smoothing: 0.5, Regions: regions}, screen, sink)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return len(sink.sent()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop())

	frames := sink.sent()
	assert.Equal(t, frame.Frame{{}}, frames[0])
	assert.Equal(t, frame.Frame{{R: 100}}, frames[1])
	assert.Equal(t, frame.Frame{{R: 150}}, frames[2])
}

func TestEngine_RegionOutsideBoundsAtStart(t *testing.T) {
	screen := &fakeScreen{img: solidImage(100, 100, color.RGBA{A: 255})}
	regions := []Region{{Index: 0, Rect: image.Rect(0, 0, 200, 50)}}

	e, err := New(Config{DeviceID: "dev", Regions: regions}, screen, &recordingSink{})
	require.NoError(t, err)

	err = e.Start(context.Background())
	assert.ErrorIs(t, err, engine.ErrCaptureUnavailable)
	assert.Equal(t, engine.Stopped, e.State())
	assert.ErrorIs(t, e.Err(), engine.ErrCaptureUnavailable)
}

func TestEngine_InitialCaptureFails(t *testing.T) {
	screen := &fakeScreen{err: errors.New("no display")}
	e, err := New(Config{DeviceID: "dev"}, screen, &recordingSink{})
	require.NoError(t, err)

	assert.ErrorIs(t, e.Start(context.Background()), engine.ErrCaptureUnavailable)
	assert.Equal(t, engine.Stopped, e.State())
}

func TestEngine_ResolutionChangeStops(t *testing.T) {
	screen := &fakeScreen{
		img:     solidImage(100, 100, color.RGBA{A: 255}),
		swapped: solidImage(80, 60, color.RGBA{A: 255}),
		swapAt:  3,
	}
	e, err := New(Config{DeviceID: "dev", FPS: 100}, screen, &recordingSink{})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	waitStopped(t, e)
	assert.ErrorIs(t, e.Err(), engine.ErrCaptureUnavailable)
}

func TestEngine_ThreeCaptureFailuresStop(t *testing.T) {
	screen := &fakeScreen{img: solidImage(40, 40, color.RGBA{A: 255})}
	sink := &recordingSink{}
	e, err := New(Config{DeviceID: "dev", FPS: 100}, screen, sink)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	screen.setErr(errors.New("grab failed"))
	waitStopped(t, e)

	assert.ErrorIs(t, e.Err(), engine.ErrCaptureUnavailable)
	assert.Equal(t, uint64(3), e.Stats().CaptureErrors)
}

func TestEngine_TransientCaptureFailureRecovers(t *testing.T) {
	fail := errors.New("busy")
	screen := &fakeScreen{
		img:    solidImage(40, 40, color.RGBA{G: 255, A: 255}),
		failAt: map[int]error{2: fail, 3: fail, 5: fail, 6: fail},
	}
	sink := &recordingSink{}
	e, err := New(Config{DeviceID: "dev", FPS: 100}, screen, sink)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool { return screen.captures() >= 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, engine.Running, e.State())
	require.NoError(t, e.Stop())
	assert.NoError(t, e.Err())
}

func TestEngine_SendFailureStops(t *testing.T) {
	screen := &fakeScreen{img: solidImage(40, 40, color.RGBA{A: 255})}
	sink := &recordingSink{}
	e, err := New(Config{DeviceID: "dev", FPS: 100}, screen, sink)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	offline := errors.New("device offline")
	sink.mu.Lock()
	sink.err = offline
	sink.mu.Unlock()

	waitStopped(t, e)
	assert.ErrorIs(t, e.Err(), offline)
}

func TestEngine_PauseStopsCapturing(t *testing.T) {
	screen := &fakeScreen{img: solidImage(40, 40, color.RGBA{A: 255})}
	e, err := New(Config{DeviceID: "dev", FPS: 100}, screen, &recordingSink{})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Pause())
	time.Sleep(30 * time.Millisecond)
	before := screen.captures()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, before, screen.captures(), "paused engine kept capturing")

	require.NoError(t, e.Resume())
	require.Eventually(t, func() bool { return screen.captures() > before }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
	stopped := screen.captures()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, screen.captures(), "stopped engine kept capturing")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no device", Config{FPS: 30, Brightness: 75}},
		{"fps too high", Config{DeviceID: "d", FPS: 500, Brightness: 75}},
		{"brightness too low", Config{DeviceID: "d", FPS: 30, Brightness: 5}},
		{"smoothing one", Config{DeviceID: "d", FPS: 30, Brightness: 75, Smoothing: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), engine.ErrInvalidConfig)
		})
	}

	_, err := New(Config{DeviceID: "d"}, nil, &recordingSink{})
	assert.ErrorIs(t, err, engine.ErrCaptureUnavailable)
}
