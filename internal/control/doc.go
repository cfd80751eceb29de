// Package control is the public surface of LumiSync Core.
//
// Front ends (the HTTP API, the MQTT bridge, a GUI) drive devices through
// a Service. It validates arguments, resolves an empty device ID to the
// selected device and routes each call to the registry, discovery, the
// command channel or the session manager.
package control
