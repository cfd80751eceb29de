// Package session runs at most one sync engine per device.
//
// A session pairs a capture source with a monitor or music engine and
// brackets it with segment mode on and off frames. Starting a session for
// a device that already has one stops the old session first. When an
// engine stops on its own (capture lost, device unreachable) the session
// is torn down the same way and the cause is kept in Info.Reason.
package session
