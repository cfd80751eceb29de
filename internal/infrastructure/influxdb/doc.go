// Package influxdb writes LumiSync operational metrics to InfluxDB v2.
//
// Three measurements are recorded: command_channel (per-device send
// counters), sync_session (frames and capture errors per running
// session) and discovery (devices found per round). InfluxDB is optional;
// Connect returns ErrDisabled when the config section is off and callers
// carry on without metrics.
package influxdb
