// Package mqtt connects CCBC Core to an MQTT broker.
//
// The broker is the read/write side door for dashboards and home
// automation: the telemetry loop publishes retained entity state and
// bridge health, and operators publish field edits to command topics.
// The serial link itself is never exposed.
//
// # Topics
//
//	ccbc/state                    whole store snapshot (retained)
//	ccbc/state/{category}/{id}    one entity (retained)
//	ccbc/command/{category}/{id}  JSON field map, e.g. {"setpoint": 152}
//	ccbc/event/transition         control engine switch events
//	ccbc/health/{component}       component health (retained)
//	ccbc/system/status            online/offline, also the LWT
//
// Entity IDs are free text, so '/', '+', '#' and '%' inside an ID are
// percent-encoded within its topic level.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        category, id, _ := mqtt.Topics{}.ParseCommand(topic)
//	        ...
//	    })
//
// Subscriptions are remembered and restored after a reconnect. Handler
// panics are recovered and logged.
package mqtt
