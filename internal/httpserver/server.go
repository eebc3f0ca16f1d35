// Package httpserver exposes the dialog service: browser calls, Twilio
// webhooks, session inspection and metrics.
package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/dialog"
	"github.com/chadiek/covercall/internal/emergency"
	"github.com/chadiek/covercall/internal/metrics"
	"github.com/chadiek/covercall/internal/rtc"
	"github.com/chadiek/covercall/internal/twilio"
)

// Options are the server collaborators. Nil transports are not mounted.
type Options struct {
	Sessions *dialog.Manager
	RTC      *rtc.Handler
	Twilio   *twilio.Handler
	Metrics  *metrics.Metrics
	// Password protects the browser call endpoints when set.
	Password string
	Log      logrus.FieldLogger
}

// New constructs the HTTP server with routes.
func New(opts Options) *echo.Echo {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	log := opts.Log.WithField("component", "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			}).Debug("request")
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))

	// browser demos call from another origin
	cors := middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Auth-Token"},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
	})
	c := callHandlers{rtc: opts.RTC, password: opts.Password, log: log}
	e.POST("/call", c.offer, cors)
	e.OPTIONS("/call", c.methodNotAllowed, cors)
	e.GET("/call", c.methodNotAllowed)
	e.GET("/call/ws", c.signaling)

	if opts.Twilio != nil {
		opts.Twilio.Register(e)
	}

	s := sessionHandlers{sessions: opts.Sessions}
	e.GET("/sessions", s.list)
	e.GET("/sessions/:id", s.get)
	e.POST("/sessions/:id/ambient", s.ambient)
	return e
}

// rtcAuthOK accepts the password as a query parameter, an X-Auth-Token
// header or a bearer token. An empty expected password accepts everything.
func rtcAuthOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	match := func(got string) bool {
		return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
	}
	if match(r.URL.Query().Get("password")) || match(r.Header.Get("X-Auth-Token")) {
		return true
	}
	ah := r.Header.Get(echo.HeaderAuthorization)
	if len(ah) > len("bearer ") && strings.EqualFold(ah[:len("bearer ")], "bearer ") {
		return match(strings.TrimSpace(ah[len("bearer "):]))
	}
	return false
}

type callHandlers struct {
	rtc      *rtc.Handler
	password string
	log      logrus.FieldLogger
}

func (h callHandlers) methodNotAllowed(c echo.Context) error {
	return c.NoContent(http.StatusMethodNotAllowed)
}

func (h callHandlers) offer(c echo.Context) error {
	if !rtcAuthOK(c.Request(), h.password) {
		return c.NoContent(http.StatusUnauthorized)
	}
	var offer rtc.SessionDescription
	if err := json.NewDecoder(c.Request().Body).Decode(&offer); err != nil || offer.Type != "offer" || offer.SDP == "" {
		h.log.WithError(err).Warn("invalid offer")
		return c.NoContent(http.StatusBadRequest)
	}
	if h.rtc == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	answer, err := h.rtc.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		h.log.WithError(err).Error("webrtc handle offer failed")
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, answer)
}

func (h callHandlers) signaling(c echo.Context) error {
	if h.rtc == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	password := h.password
	if rtcAuthOK(c.Request(), password) {
		password = ""
	}
	h.rtc.ServeWebSocket(c.Response(), c.Request(), password)
	return nil
}

type sessionHandlers struct {
	sessions *dialog.Manager
}

func (h sessionHandlers) list(c echo.Context) error {
	if h.sessions == nil {
		return c.JSON(http.StatusOK, []dialog.View{})
	}
	return c.JSON(http.StatusOK, h.sessions.List())
}

func (h sessionHandlers) lookup(c echo.Context) (*dialog.Session, error) {
	if h.sessions != nil {
		if s, ok := h.sessions.Get(c.Param("id")); ok {
			return s, nil
		}
	}
	return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
}

func (h sessionHandlers) get(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Snapshot())
}

func (h sessionHandlers) ambient(c echo.Context) error {
	s, err := h.lookup(c)
	if s == nil {
		return err
	}
	var sig emergency.Signal
	if err := json.NewDecoder(c.Request().Body).Decode(&sig); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	switch err := s.NoteAmbient(sig); {
	case errors.Is(err, emergency.ErrUnknownCategory):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, dialog.ErrSessionClosed):
		return c.JSON(http.StatusGone, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusAccepted)
}
