package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	applogger "TradeCore/pkg/logger"
)

// RequestLogging logs one structured line per request. Server errors log at
// error level, requests slower than slow at warn, the rest at debug.
func RequestLogging(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.NewNop()
	}
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogRoutePath: true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []applogger.Field{
				applogger.String("method", v.Method),
				applogger.String("uri", v.URI),
				applogger.String("route", v.RoutePath),
				applogger.Int("status", v.Status),
				applogger.Duration("latency", v.Latency),
				applogger.String("remote_ip", v.RemoteIP),
			}
			switch {
			case v.Status >= 500:
				if v.Error != nil {
					fields = append(fields, applogger.Error(v.Error))
				}
				l.Error("http request failed", fields...)
			case slow > 0 && v.Latency >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		},
	})
}
