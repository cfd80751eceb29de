package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/lumisync-core/internal/engine/music"
	"github.com/nerrad567/lumisync-core/internal/process"
)

// audioQueueDepth is how many buffers may wait for the engine before the
// oldest is dropped.
const audioQueueDepth = 16

// AudioConfig describes the PCM capture helper.
type AudioConfig struct {
	// Binary is parec or arecord.
	Binary string

	// Device is the PulseAudio source or ALSA device. Empty uses the
	// helper's default.
	Device string

	SampleRate   int
	BufferMillis int

	// Args are appended to the generated command line.
	Args []string

	// Restarts is how many times a failed helper is restarted.
	Restarts int
}

// Validate checks the PCM settings.
func (c AudioConfig) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("%w: no audio capture binary", ErrInvalidConfig)
	}
	if c.SampleRate < 8000 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.BufferMillis < 1 || c.BufferMillis > 1000 {
		return fmt.Errorf("%w: buffer %dms", ErrInvalidConfig, c.BufferMillis)
	}
	return nil
}

// samplesPerBuffer returns the mono sample count of one buffer.
func (c AudioConfig) samplesPerBuffer() int {
	return c.SampleRate * c.BufferMillis / 1000
}

// AudioArgs returns the helper command line for cfg. arecord gets ALSA
// flags, anything else is treated as parec.
func AudioArgs(cfg AudioConfig) []string {
	rate := strconv.Itoa(cfg.SampleRate)
	var args []string
	if filepath.Base(cfg.Binary) == "arecord" {
		args = []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", rate}
		if cfg.Device != "" {
			args = append(args, "-D", cfg.Device)
		}
	} else {
		args = []string{"--raw", "--format=s16le", "--channels=1", "--rate=" + rate,
			"--latency-msec=" + strconv.Itoa(cfg.BufferMillis)}
		if cfg.Device != "" {
			args = append(args, "--device="+cfg.Device)
		}
	}
	return append(args, cfg.Args...)
}

// Audio is a music.Source backed by a PCM subprocess.
type Audio struct {
	rate    int
	samples int

	sup    *process.Supervisor
	logger Logger

	buffers chan music.Buffer
	dropped atomic.Uint64

	mu      sync.Mutex
	started bool
}

var _ music.Source = (*Audio)(nil)

// NewAudio builds an unstarted audio source.
func NewAudio(cfg AudioConfig) (*Audio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newAudio(cfg.SampleRate, cfg.samplesPerBuffer(), cfg.Restarts, cfg.Binary, AudioArgs(cfg)), nil
}

func newAudio(rate, samples, restarts int, binary string, args []string) *Audio {
	a := &Audio{
		rate:    rate,
		samples: samples,
		logger:  noopLogger{},
		buffers: make(chan music.Buffer, audioQueueDepth),
	}
	a.sup = process.NewSupervisor(process.Config{
		Name:     "audio-capture",
		Binary:   binary,
		Args:     args,
		Stdout:   a.consume,
		Restarts: restarts,
	})
	return a
}

// SetLogger sets the logger for the source and its helper.
func (a *Audio) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
		a.sup.SetLogger(logger)
	}
}

// Start launches the helper.
func (a *Audio) Start(ctx context.Context) error {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	if err := a.sup.Start(ctx); err != nil {
		return fmt.Errorf("starting audio capture: %w", err)
	}
	return nil
}

// Read returns the next buffer. Buffers already captured are still
// delivered after the helper exits; then Read returns io.EOF.
func (a *Audio) Read(ctx context.Context) (music.Buffer, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return music.Buffer{}, ErrNotStarted
	}

	select {
	case buf := <-a.buffers:
		return buf, nil
	default:
	}

	select {
	case buf := <-a.buffers:
		return buf, nil
	case <-a.sup.Done():
		select {
		case buf := <-a.buffers:
			return buf, nil
		default:
			return music.Buffer{}, io.EOF
		}
	case <-ctx.Done():
		return music.Buffer{}, ctx.Err()
	}
}

// Dropped returns how many buffers were discarded because the engine fell
// behind.
func (a *Audio) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops the helper.
func (a *Audio) Close() error {
	return a.sup.Stop()
}

// consume slices one helper run's PCM stream into buffers.
func (a *Audio) consume(r io.Reader) {
	raw := make([]byte, a.samples*2)
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if !errors.Is(err, io.EOF) {
				a.logger.Debug("audio stream ended mid-buffer", "error", err)
			}
			return
		}
		a.push(music.Buffer{Samples: decodeS16LE(raw), SampleRate: a.rate})
	}
}

// push queues buf, dropping the oldest buffer when the queue is full.
// consume is the only writer.
func (a *Audio) push(buf music.Buffer) {
	select {
	case a.buffers <- buf:
		return
	default:
	}
	select {
	case <-a.buffers:
		a.dropped.Add(1)
	default:
	}
	select {
	case a.buffers <- buf:
	default:
		a.dropped.Add(1)
	}
}

// decodeS16LE converts little-endian signed 16-bit PCM to [-1, 1).
func decodeS16LE(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:])) //nolint:gosec // reinterpreting PCM bits
		out[i] = float32(v) / 32768
	}
	return out
}
