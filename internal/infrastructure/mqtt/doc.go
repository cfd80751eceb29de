// Package mqtt connects LumiSync to an MQTT broker so home-automation
// systems can drive lights and follow device state remotely.
//
// The client reconnects automatically, restores subscriptions after a
// reconnect and registers a retained Last Will on lumisync/system/status.
//
// Topic layout:
//
//	lumisync/command/{device}   inbound commands
//	lumisync/ack/{device}       command results
//	lumisync/state/{device}     retained device view
//	lumisync/session/{device}   session lifecycle
//	lumisync/health             periodic health
//	lumisync/system/status      online/offline (LWT)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := mqtt.DeviceFromTopic(topic)
//	        return handle(id, payload)
//	    })
package mqtt
