package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"rollcall/attendance"
	"rollcall/bridge"
	"rollcall/indicator"
	"rollcall/mqtt"
)

// forwardEvents drains bridge events off the bridge goroutine and fans them
// out to the indicator, the broker and Redis.
func (app *App) forwardEvents() {
	for {
		select {
		case <-app.ctx.Done():
			return
		case ev := <-app.events:
			app.handleEvent(ev)
		}
	}
}

func (app *App) handleEvent(ev bridge.Event) {
	switch ev.Type {
	case bridge.EventConnected:
		app.indicator.Ready()
	case bridge.EventDisconnected, bridge.EventConnectionError:
		app.indicator.ConnectionLost()
	}

	if app.mqtt.IsEnabled() {
		app.publishEvent(ev)
	}

	if app.redis != nil {
		ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
		var err error
		if ev.Type == bridge.EventRFIDTag {
			err = app.redis.PublishTag(ctx, ev.Tag.ReaderID, ev)
		} else {
			err = app.redis.Publish(ctx, ev)
		}
		cancel()
		if err != nil {
			app.log.WithError(err).WithField("type", ev.Type).Warn("redis publish")
		}
	}

	if ev.Type == bridge.EventRFIDTag && app.cfg.Bridge.AutoCheckIn {
		app.checkInTag(*ev.Tag)
	}
}

// checkInTag records a check-in for a queued tag. The tag is marked
// processed once a check-in exists for it; unknown cards stay queued so a
// page can still assign them.
func (app *App) checkInTag(tag bridge.TagEvent) {
	ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer cancel()

	rec, err := app.attendance.CheckInCard(ctx, tag.CardID, tag.ObservedAt)
	log := app.log.WithFields(logrus.Fields{"tag": tag.ID, "card": tag.CardID})
	if !app.reportCheckIn(log, rec, err) {
		return
	}
	app.bridge.MarkTagProcessed(tag.ID)
}

// scanListener checks in QR codes read by the keyboard-wedge scanner.
func (app *App) scanListener() {
	for {
		select {
		case <-app.ctx.Done():
			return
		default:
		}

		code, err := app.scanner.Read(app.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			app.log.WithError(err).Warn("read scanner")
			time.Sleep(time.Second)
			continue
		}

		ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
		rec, err := app.attendance.CheckInCode(ctx, code, time.Now())
		cancel()
		app.reportCheckIn(app.log.WithField("code", code), rec, err)
	}
}

// reportCheckIn drives the indicator and broker for a check-in outcome and
// reports whether a check-in exists for the student.
func (app *App) reportCheckIn(log logrus.FieldLogger, rec attendance.CheckIn, err error) bool {
	info := &indicator.ScanInfo{StudentID: rec.StudentID, StudentName: rec.StudentName}

	switch {
	case err == nil:
		log.WithField("student", rec.StudentID).Info("checked in")
		app.indicator.CheckedIn(info)
		if perr := app.mqtt.PublishJSON(app.mqtt.Topics().Status(mqtt.StatusCheckIn), rec, false); perr != nil {
			log.WithError(perr).Warn("mqtt publish check-in")
		}
		return true
	case errors.Is(err, attendance.ErrAlreadyCheckedIn):
		log.WithField("student", rec.StudentID).Info("already checked in today")
		info.Reason = "already checked in"
		app.indicator.CheckedIn(info)
		return true
	case errors.Is(err, attendance.ErrUnknownCard), errors.Is(err, attendance.ErrUnknownStudent):
		log.Info("no student for scan")
		info.Reason = "unknown"
		app.indicator.Rejected(info)
	default:
		log.WithError(err).Error("check-in failed")
		info.Reason = "error"
		app.indicator.Rejected(info)
	}
	return false
}
