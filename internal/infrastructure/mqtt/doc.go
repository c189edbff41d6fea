// Package mqtt is the broker client shared by every transport in
// CellFleet Core.
//
// MQTT decouples Core from the cellular access network. Gateways in the
// field publish registration, notification, and acknowledgement
// messages; Core subscribes with wildcard filters and publishes
// commands back on per-endpoint topics:
//
//	CellFleet Core <-> MQTT Broker <-> Cellular Gateways
//
// The client reconnects automatically with exponential backoff and
// restores its subscriptions after every reconnect. A retained
// last-will message on cellfleet/system/status distinguishes a crash
// from a graceful shutdown. TLS (1.2+) and broker credentials come
// from the mqtt section of config.yaml; anonymous plaintext is for
// local development only.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllNotifications(), 1,
//	    func(topic string, payload []byte) error {
//	        // decode and route
//	        return nil
//	    })
//
// Topic strings are built through the Topics type rather than by hand
// so the scheme lives in one place.
package mqtt
