// Package engine holds what the monitor and music sync engines share: the
// session state machine, the failure kinds callers handle uniformly and
// the sink engines push frames into.
//
// States move Idle → Running ⇄ Paused → Stopped. Stopped is terminal; a
// stopped engine is discarded and a new one built for the next session.
package engine
