package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"rollcall/bridge"
)

// events streams bridge events as server-sent events until the client goes
// away. A slow client loses events rather than stalling the bridge.
func (api *rfidAPI) events(ctx echo.Context) error {
	ch := make(chan bridge.Event, 32)
	unsubscribe := api.bridge().Subscribe(func(ev bridge.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	w := ctx.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ping := time.NewTicker(api.s.opts.PingInterval)
	defer ping.Stop()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				api.s.log.WithError(err).Warn("encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			w.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
