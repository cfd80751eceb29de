// Package bridge exposes LumiSync on an MQTT bus.
//
// Remote clients publish commands to lumisync/command/{device} and receive
// acknowledgements on lumisync/ack/{device}. The special device level
// "selected" targets the selected device.
//
// The bridge mirrors the registry as retained state messages on
// lumisync/state/{device} (cleared when a device is removed), relays
// session lifecycle on lumisync/session/{device} and publishes periodic
// health on lumisync/health. The MQTT client's LWT marks the service
// offline on lumisync/system/status.
//
// Command payload:
//
//	{
//	  "id": "5c1f...",
//	  "command": "brightness",
//	  "parameters": {"brightness": 40}
//	}
//
// Commands: on, off, brightness, color, start_session, stop_session,
// pause_session, resume_session, query, reconnect.
package bridge
