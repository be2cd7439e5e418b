package main

import (
	"context"
	"time"

	"rollcall/bridge"
	"rollcall/mqtt"
)

type connectionStatus struct {
	Event  bridge.EventType `json:"event"`
	Port   string           `json:"port,omitempty"`
	Owner  string           `json:"owner,omitempty"`
	Reason string           `json:"reason,omitempty"`
	Error  string           `json:"error,omitempty"`
	At     time.Time        `json:"at"`
}

func (app *App) onMQTTConnect() {
	if err := app.mqtt.Subscribe(app.mqtt.Topics().ControlFilter()); err != nil {
		app.log.WithError(err).Warn("mqtt subscribe")
	}
	app.publishStatus()
}

func (app *App) onMQTTDisconnect(err error) {
	app.log.WithError(err).Warn("mqtt connection lost")
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	cmd, ok := app.mqtt.Topics().ParseControl(topic)
	if !ok {
		return
	}
	log := app.log.WithField("command", cmd)

	if app.bridge == nil {
		log.Warn("remote command ignored, reader disabled")
		return
	}

	ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer cancel()

	switch cmd {
	case mqtt.ControlReset:
		log.Info("remote reset requested")
		if err := app.bridge.ResetConnection(ctx); err != nil {
			log.WithError(err).Warn("reset")
		}
	case mqtt.ControlStatus:
		app.publishStatus()
	default:
		log.Debug("unknown control command")
	}
}

// publishStatus sends the current link snapshot as a retained message.
func (app *App) publishStatus() {
	if app.bridge == nil {
		return
	}
	ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer cancel()

	status, err := app.bridge.Status(ctx)
	if err != nil {
		app.log.WithError(err).Debug("status for mqtt")
		return
	}
	if err := app.mqtt.PublishJSON(app.mqtt.Topics().Status(mqtt.StatusConnection), status, true); err != nil {
		app.log.WithError(err).Warn("mqtt publish status")
	}
}

// publishEvent mirrors one bridge event to the broker.
func (app *App) publishEvent(ev bridge.Event) {
	topics := app.mqtt.Topics()

	var err error
	switch ev.Type {
	case bridge.EventRFIDTag:
		err = app.mqtt.PublishJSON(topics.Status(mqtt.StatusTag), ev.Tag, false)
	case bridge.EventHeartbeat:
		err = app.mqtt.PublishJSON(topics.Status(mqtt.StatusHeartbeat), ev.Heartbeat, false)
	case bridge.EventConnected, bridge.EventDisconnected, bridge.EventConnectionError, bridge.EventOwnerChanged:
		err = app.mqtt.PublishJSON(topics.Status(mqtt.StatusConnection), connectionStatus{
			Event:  ev.Type,
			Port:   ev.Port,
			Owner:  ev.Owner,
			Reason: ev.Reason,
			Error:  ev.Error,
			At:     ev.At,
		}, true)
	}
	if err != nil {
		app.log.WithError(err).WithField("type", ev.Type).Warn("mqtt publish")
	}
}
