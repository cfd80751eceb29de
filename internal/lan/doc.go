// Package lan owns the single UDP socket LumiSync uses to talk to
// devices.
//
// Devices answer scans and state queries on the response port (4002), so
// all traffic is sent from and received on one socket bound to that port.
// Scans go to the multicast control group (239.255.255.250:4001); commands
// go unicast to each device's command port (4003).
//
// Received datagrams are fanned out to subscribers by one dispatch
// goroutine, in arrival order. Subscribers must not block.
package lan
