package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/segmentio/ksuid"
)

// SecurityHeaders sets the headers every page of the gateway carries.
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Cache-Control", "no-store")
		return next(c)
	}
}

func RequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return ksuid.New().String()
		},
	})
}

// AccessLog logs one line per request through slog.
func AccessLog() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}

// HTTPErrorHandler renders errors as the error page, or as an oauth2 error
// body for clients asking for JSON.
func (h *Handler) HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, wire := h.wireError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "path", c.Request().URL.Path, "status", status)
	} else {
		slog.Debug("Request rejected", "error", err, "path", c.Request().URL.Path, "status", status)
	}

	var rerr error
	switch {
	case c.Request().Method == http.MethodHead:
		rerr = c.NoContent(status)
	case wantsJSON(c.Request()):
		rerr = c.JSON(status, wire)
	default:
		rerr = c.Render(status, "error.html", h.pageData(c, map[string]any{"error": wire}))
	}
	if rerr != nil {
		slog.Error("Unable to write error response", "error", rerr)
	}
}

func (h *Handler) wireError(err error) (int, *oauth2.Error) {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return http.StatusInternalServerError, &oauth2.Error{Code: oauth2.ErrorCodeServerError, Description: "internal error"}
	}

	switch msg := he.Message.(type) {
	case *oauth2.Error:
		return he.Code, msg
	case oauth2.Error:
		return he.Code, &msg
	case string:
		return he.Code, &oauth2.Error{Code: codeForStatus(he.Code), Description: msg}
	default:
		return he.Code, &oauth2.Error{Code: codeForStatus(he.Code), Description: http.StatusText(he.Code)}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return oauth2.ErrorCodeInvalidRequest
	case http.StatusUnauthorized:
		return oauth2.ErrorCodeUnauthorized
	case http.StatusForbidden:
		return oauth2.ErrorCodeAccessDenied
	case http.StatusNotFound:
		return oauth2.ErrorCodeNotFound
	case http.StatusBadGateway:
		return oauth2.ErrorCodeBadGateway
	default:
		if status >= http.StatusInternalServerError {
			return oauth2.ErrorCodeServerError
		}
		return oauth2.ErrorCodeInvalidRequest
	}
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, echo.MIMEApplicationJSON) && !strings.Contains(accept, echo.MIMETextHTML)
}
