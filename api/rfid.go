package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"rollcall/attendance"
	"rollcall/bridge"
	"rollcall/serialport"
)

type rfidAPI struct {
	s *Server
}

type connectRequest struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate" validate:"gte=0,lte=4000000"`
	PageID   string `json:"page_id" validate:"required,notblank"`
}

type writeCardRequest struct {
	StudentID   string `json:"student_id" validate:"required,notblank"`
	StudentName string `json:"student_name" validate:"required,notblank"`
}

type portsResponse struct {
	Ports    []serialport.PortInfo `json:"ports"`
	Detected *serialport.PortInfo  `json:"detected"`
}

func registerRFIDAPI(g *echo.Group, s *Server) {
	if s.opts.Bridge == nil { // reader disabled
		return
	}
	api := rfidAPI{s: s}

	rg := g.Group("/rfid")
	rg.GET("/ports", api.ports)
	rg.POST("/connect", api.connect)
	rg.POST("/disconnect", api.disconnect)
	rg.POST("/reset", api.reset)
	rg.GET("/status", api.status)
	rg.GET("/test", api.test)
	rg.GET("/latest-tag", api.latestTag)
	rg.POST("/tags/:id/processed", api.markProcessed)
	rg.POST("/tags/:id/check-in", api.checkInTag)
	rg.POST("/write-card", api.writeCard)
	rg.GET("/events", api.events)
}

func (api *rfidAPI) bridge() Bridge { return api.s.opts.Bridge }

func (api *rfidAPI) ports(ctx echo.Context) error {
	ports, err := api.s.opts.ListPorts()
	if err != nil {
		return errors.Wrap(err, "listing ports")
	}
	if ports == nil {
		ports = []serialport.PortInfo{}
	}
	resp := portsResponse{Ports: ports}
	if c, ok := serialport.DetectCandidate(ports); ok {
		resp.Detected = &c
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *rfidAPI) connect(ctx echo.Context) error {
	var req connectRequest
	if err := api.s.bindAndValidate(ctx, &req); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx.Request().Context(), api.s.opts.ConnectTimeout)
	defer cancel()
	if err := api.bridge().Connect(cctx, req.Port, req.BaudRate, req.PageID); err != nil {
		return err
	}
	return api.status(ctx)
}

func (api *rfidAPI) disconnect(ctx echo.Context) error {
	if err := api.bridge().Disconnect(ctx.Request().Context()); err != nil {
		return err
	}
	return api.status(ctx)
}

func (api *rfidAPI) reset(ctx echo.Context) error {
	if err := api.bridge().ResetConnection(ctx.Request().Context()); err != nil {
		return err
	}
	return api.status(ctx)
}

func (api *rfidAPI) status(ctx echo.Context) error {
	st, err := api.bridge().Status(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *rfidAPI) test(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.bridge().TestConnection(ctx.Request().Context()))
}

func (api *rfidAPI) latestTag(ctx echo.Context) error {
	tag, ok := api.bridge().LatestTag()
	if !ok {
		return ctx.NoContent(http.StatusNoContent)
	}
	return ctx.JSON(http.StatusOK, tag)
}

func tagID(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func (api *rfidAPI) markProcessed(ctx echo.Context) error {
	id, err := tagID(ctx)
	if err != nil {
		return err
	}
	if !api.bridge().MarkTagProcessed(id) {
		return errTagNotFound
	}
	tag, _ := api.bridge().Tag(id)
	return ctx.JSON(http.StatusOK, tag)
}

// checkInTag checks in the card of a queued tag. The tag is marked processed
// once the check-in is recorded, or was already recorded today.
func (api *rfidAPI) checkInTag(ctx echo.Context) error {
	id, err := tagID(ctx)
	if err != nil {
		return err
	}
	tag, ok := api.bridge().Tag(id)
	if !ok {
		return errTagNotFound
	}

	c, err := api.s.opts.Attendance.CheckInCard(ctx.Request().Context(), tag.CardID, tag.ObservedAt)
	switch {
	case err == nil:
		api.bridge().MarkTagProcessed(id)
		return ctx.JSON(http.StatusCreated, c)
	case errors.Is(err, attendance.ErrAlreadyCheckedIn):
		api.bridge().MarkTagProcessed(id)
		return alreadyCheckedIn(ctx, c)
	default:
		return err
	}
}

func (api *rfidAPI) writeCard(ctx echo.Context) error {
	var req writeCardRequest
	if err := api.s.bindAndValidate(ctx, &req); err != nil {
		return err
	}
	if err := api.bridge().WriteCard(ctx.Request().Context(), req.StudentID, req.StudentName); err != nil {
		if errors.Is(err, bridge.ErrNotConnected) {
			return err
		}
		return errors.Wrap(err, "writing card")
	}
	return ctx.JSON(http.StatusAccepted, echo.Map{"success": true})
}

func alreadyCheckedIn(ctx echo.Context, existing attendance.CheckIn) error {
	return ctx.JSON(http.StatusConflict, echo.Map{
		"error":    attendance.ErrAlreadyCheckedIn.Error(),
		"check_in": existing,
	})
}
