// Package discovery finds devices on the LAN.
//
// A discovery round broadcasts one scan datagram to the multicast group
// and collects scan responses arriving on the shared LAN socket until the
// window closes:
//
//	Service.Discover ──scan──► 239.255.255.250:4001
//	        ▲
//	        └── lan.Socket :4002 ◄── {"msg":{"cmd":"scan","data":{...}}}
//	                 │
//	                 ▼
//	        device.Registry.Upsert (once per device per round)
//
// Responses that fail to decode, and responses whose identity conflicts
// with the registry, are logged and dropped. A round with no answers is
// not an error.
package discovery
