// Package monitor mirrors screen content onto a device's LED segments.
//
// Every tick the engine grabs a frame from its Capturer, reduces each
// mapped Region to its mean color, scales the result by the session
// brightness, optionally blends it with the previous output and hands it
// to the sink as one segment command.
//
// Regions are checked against the captured bounds once at start and the
// bounds are checked on every frame after that; a resolution change or
// three failed captures in a row stop the session with
// engine.ErrCaptureUnavailable.
package monitor
