package sink

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	Store Store
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// NewServer returns an echo instance serving the sink API.
func NewServer(store Store, log logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	h := Handlers{Store: store, Log: log.WithField("component", "sink"), Now: time.Now}
	h.Register(e)
	return e
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/emergency", h.receive)
	e.GET("/api/emergency/calls", h.list)
	e.GET("/api/emergency/calls/:id", h.get)
}

func (h Handlers) receive(c echo.Context) error {
	var call Call
	if err := json.NewDecoder(c.Request().Body).Decode(&call); err != nil || call == nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
	}
	if call.ID() == "" {
		call["id"] = uuid.NewString()
	}
	if _, ok := call["timestamp"]; !ok {
		call["timestamp"] = h.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := h.Store.Add(c.Request().Context(), call); err != nil {
		h.Log.WithError(err).Error("store call")
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "error": "Error processing emergency call"})
	}

	entry := h.Log.WithFields(logrus.Fields{
		"call_id":    call.ID(),
		"session_id": call["session_id"],
		"address":    call["address"],
		"type":       call["emergency_type"],
	})
	if likely, _ := call["likely_emergency"].(bool); likely {
		entry.Warn("emergency call received")
	} else {
		entry.Info("call received")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Emergency call received",
		"callId":  call.ID(),
	})
}

func (h Handlers) list(c echo.Context) error {
	calls, err := h.Store.List(c.Request().Context())
	if err != nil {
		h.Log.WithError(err).Error("list calls")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
	}
	return c.JSON(http.StatusOK, calls)
}

func (h Handlers) get(c echo.Context) error {
	call, err := h.Store.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Emergency call not found"})
	}
	if err != nil {
		h.Log.WithError(err).Error("get call")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
	}
	return c.JSON(http.StatusOK, call)
}
