// Package routes builds the ops server.
package routes

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/mef/pkg/middleware"
	"github.com/Ramsey-B/mef/pkg/routes/health"
)

// New returns the ops server with the health routes registered. The checker
// and logger are served to the handlers from a container owned by this server.
func New(serviceName string, checker *health.Checker, logger ectologger.Logger) (*echo.Echo, error) {
	containerID, err := newContainer(serviceName, checker, logger)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echoMiddleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Container(containerID))
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Logger(logger))

	health.RegisterRoutes(e)
	return e, nil
}

func newContainer(serviceName string, checker *health.Checker, logger ectologger.Logger) (string, error) {
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       serviceName + ":" + uuid.NewString(),
		AllowCaptiveDependencies: true,
		AllowMissingDependencies: true,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:   "ectoinject",
			LogLevel: loglevel.WARN,
			Enabled:  true,
			LogFunc: func(ctx context.Context, level, msg string) {
				logger.WithContext(ctx).WithFields(map[string]any{"level": level}).Debug(msg)
			},
		},
	})
	if err != nil {
		return "", err
	}
	if err := ectoinject.RegisterInstance[*health.Checker](container, checker); err != nil {
		return "", err
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return "", err
	}
	return container.GetContainerID(), nil
}
