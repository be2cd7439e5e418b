package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"rollcall/attendance"
)

type attendanceAPI struct {
	s *Server
}

type checkInRequest struct {
	CardID string `json:"card_id" validate:"omitempty,cardid"`
	Code   string `json:"code"`
}

type assignCardRequest struct {
	CardID string `json:"card_id" validate:"required,cardid"`
}

func registerAttendanceAPI(g *echo.Group, s *Server) {
	api := attendanceAPI{s: s}

	g.POST("/attendance/check-in", api.checkIn)
	g.GET("/attendance", api.list)
	g.PUT("/students/:id/card", api.assignCard)
}

func (api *attendanceAPI) checkIn(ctx echo.Context) error {
	var req checkInRequest
	if err := api.s.bindAndValidate(ctx, &req); err != nil {
		return err
	}

	var (
		c   attendance.CheckIn
		err error
		now = time.Now()
	)
	if req.CardID != "" {
		c, err = api.s.opts.Attendance.CheckInCard(ctx.Request().Context(), req.CardID, now)
	} else {
		c, err = api.s.opts.Attendance.CheckInCode(ctx.Request().Context(), req.Code, now)
	}
	if errors.Is(err, attendance.ErrAlreadyCheckedIn) {
		return alreadyCheckedIn(ctx, c)
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *attendanceAPI) list(ctx echo.Context) error {
	day := time.Now()
	if q := ctx.QueryParam("date"); q != "" {
		d, err := time.ParseInLocation(attendance.DayLayout, q, time.Local)
		if err != nil {
			return errInvalidDate
		}
		day = d
	}

	list, err := api.s.opts.Attendance.ListCheckIns(ctx.Request().Context(), day)
	if err != nil {
		return errors.Wrap(err, "listing check-ins")
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *attendanceAPI) assignCard(ctx echo.Context) error {
	var req assignCardRequest
	if err := api.s.bindAndValidate(ctx, &req); err != nil {
		return err
	}
	st, err := api.s.opts.Attendance.AssignCard(ctx.Request().Context(), ctx.Param("id"), req.CardID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}
