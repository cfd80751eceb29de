package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/lumisync-core/internal/capture"
	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/engine/monitor"
	"github.com/nerrad567/lumisync-core/internal/engine/music"
)

// ScreenSource is a started screen capture.
type ScreenSource interface {
	monitor.Capturer
	Close() error
}

// AudioSource is a started audio capture.
type AudioSource interface {
	music.Source
	Close() error
}

// Sources opens capture for a session. Sources run until Close, so ctx
// only bounds startup.
type Sources interface {
	OpenScreen(ctx context.Context, cfg MonitorConfig) (ScreenSource, error)
	OpenAudio(ctx context.Context, cfg MusicConfig) (AudioSource, error)
}

// CaptureSources opens ffmpeg and parec/arecord helpers.
type CaptureSources struct {
	Screen capture.ScreenConfig
	Audio  capture.AudioConfig
	Logger capture.Logger
}

// OpenScreen starts a screen helper for cfg.
func (s CaptureSources) OpenScreen(ctx context.Context, cfg MonitorConfig) (ScreenSource, error) {
	sc := s.Screen
	if cfg.Display != "" {
		sc.Display = cfg.Display
	}
	if cfg.FPS != 0 {
		sc.FPS = cfg.FPS
	}
	screen, err := capture.NewScreen(sc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrCaptureUnavailable, err)
	}
	screen.SetLogger(s.Logger)
	if err := screen.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrCaptureUnavailable, err)
	}
	return screen, nil
}

// OpenAudio starts an audio helper for cfg.
func (s CaptureSources) OpenAudio(ctx context.Context, cfg MusicConfig) (AudioSource, error) {
	ac := s.Audio
	if cfg.Source != "" {
		ac.Device = cfg.Source
	}
	audio, err := capture.NewAudio(ac)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrCaptureUnavailable, err)
	}
	audio.SetLogger(s.Logger)
	if err := audio.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrCaptureUnavailable, err)
	}
	return audio, nil
}
