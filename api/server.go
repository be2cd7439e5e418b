// Package api is the HTTP boundary of the reader station.
package api

import (
	"context"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rollcall/attendance"
	"rollcall/bridge"
	"rollcall/serialport"
)

// Bridge is the reader link as seen by the HTTP handlers.
type Bridge interface {
	Connect(ctx context.Context, port string, baud int, pageID string) error
	Disconnect(ctx context.Context) error
	ResetConnection(ctx context.Context) error
	Status(ctx context.Context) (bridge.StatusSnapshot, error)
	TestConnection(ctx context.Context) bridge.TestResult
	LatestTag() (bridge.TagEvent, bool)
	Tag(id int64) (bridge.TagEvent, bool)
	MarkTagProcessed(id int64) bool
	WriteCard(ctx context.Context, studentID, studentName string) error
	Subscribe(h bridge.Handler) func()
}

// Attendance records check-ins.
type Attendance interface {
	CheckInCard(ctx context.Context, cardID string, at time.Time) (attendance.CheckIn, error)
	CheckInCode(ctx context.Context, code string, at time.Time) (attendance.CheckIn, error)
	AssignCard(ctx context.Context, studentID, cardID string) (attendance.Student, error)
	ListCheckIns(ctx context.Context, day time.Time) ([]attendance.CheckIn, error)
}

type Options struct {
	Address        string
	DisableReqLogs bool
	Debug          bool
	ConnectTimeout time.Duration
	PingInterval   time.Duration // SSE keep-alive comments

	Bridge     Bridge
	Attendance Attendance
	ListPorts  func() ([]serialport.PortInfo, error)
	Log        logrus.FieldLogger
}

type Server struct {
	opts       Options
	app        *echo.Echo
	log        logrus.FieldLogger
	validate   *validator.Validate
	translator ut.Translator
}

func NewServer(opts Options) *Server {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.ListPorts == nil {
		opts.ListPorts = serialport.ListPorts
	}

	s := &Server{
		opts: opts,
		app:  echo.New(),
		log:  opts.Log.WithField("component", "api"),
	}
	s.validate, s.translator = newValidator()
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.opts.Debug

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				s.log.WithFields(logrus.Fields{
					"method":  v.Method,
					"uri":     v.URI,
					"status":  v.Status,
					"latency": v.Latency,
				}).Debug("request")
				return nil
			},
		}))
	}
	if !s.opts.Debug {
		s.app.Use(middleware.Recover())
	}
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.log, s.translator)

	s.app.GET("/health", health)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := s.app.Group("/api")
	registerRFIDAPI(g, s)
	registerAttendanceAPI(g, s)
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.WithField("address", s.opts.Address).Info("http server listening")
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) bindAndValidate(ctx echo.Context, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		return err
	}
	return s.validate.Struct(data)
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
