// Package music turns captured audio into LED frames.
//
// The engine runs at the cadence of its Source: every buffer is reduced to
// Features (peak, RMS and low/mid/high band energies), mapped through a
// Pattern to a frame, scaled by the session brightness and sent.
//
// Silence is a peak below the floor for N buffers in a row. From then on
// the engine either keeps re-sending the last frame (hold) or dims it to
// off over K buffers (fade), until sound returns.
package music
