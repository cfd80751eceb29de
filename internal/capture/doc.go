// Package capture turns helper subprocess output into engine input.
//
// Screen runs ffmpeg writing rawvideo rgb24 frames to stdout and keeps the
// latest frame for the monitor engine. Audio runs parec or arecord writing
// mono s16le PCM and hands fixed-size buffers to the music engine. Both
// helpers are supervised by internal/process and restarted a few times
// before the source reports itself closed.
package capture
