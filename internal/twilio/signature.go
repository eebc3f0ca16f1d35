package twilio

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go/client"
)

const paramsKey = "twilioParams"

// BuildAbsoluteURL builds the public URL of path. The configured base wins,
// then X-Forwarded-* headers, then the request host.
func BuildAbsoluteURL(r *http.Request, base, path string) string {
	if base == "" {
		proto := r.Header.Get("X-Forwarded-Proto")
		host := r.Header.Get("X-Forwarded-Host")
		if proto != "" && host != "" {
			base = proto + "://" + host
		}
	}
	if base == "" {
		proto := "https"
		if strings.HasPrefix(r.Host, "localhost") || strings.HasPrefix(r.Host, "127.0.0.1") {
			proto = "http"
		}
		base = proto + "://" + r.Host
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + path
}

// websocketURL turns an http(s) URL into ws(s).
func websocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Params returns the validated form parameters of a webhook.
func Params(c echo.Context) map[string]string {
	p, _ := c.Get(paramsKey).(map[string]string)
	return p
}

// ValidateSignature rejects webhooks whose X-Twilio-Signature does not match
// the request URL and form body.
func ValidateSignature(authToken, publicBase string, log logrus.FieldLogger) echo.MiddlewareFunc {
	validator := client.NewRequestValidator(authToken)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for k, v := range form {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
			signature := c.Request().Header.Get("X-Twilio-Signature")
			fullURL := BuildAbsoluteURL(c.Request(), publicBase, c.Request().URL.RequestURI())
			if signature == "" || !validator.Validate(fullURL, params, signature) {
				log.WithField("url", fullURL).Warn("twilio signature rejected")
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}
			c.Set(paramsKey, params)
			return next(c)
		}
	}
}
