package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"
)

// MirrorPath is the route the front-end calls.
const MirrorPath = "/api/miroir"

const maxBodyBytes = 1 << 20

// LambdaHandler is the signature served by the Lambda runtime.
type LambdaHandler func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// New returns an echo instance that serves handler over plain HTTP, for local
// runs outside Lambda. metrics may be nil.
func New(handler LambdaHandler, metrics http.Handler, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(LoggingMiddleware(logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	e.Any(MirrorPath, adapt(handler))
	return e
}

// LoggingMiddleware logs each request with structured fields.
func LoggingMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

func adapt(handler LambdaHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		event, err := toEvent(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		resp, err := handler(c.Request().Context(), event)
		if err != nil {
			return fmt.Errorf("server: lambda handler: %w", err)
		}
		return writeResponse(c, resp)
	}
}

func toEvent(r *http.Request) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return events.APIGatewayProxyRequest{}, fmt.Errorf("server: read body: %w", err)
	}

	headers := make(map[string]string, len(r.Header))
	multi := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ",")
		multi[k] = v
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	return events.APIGatewayProxyRequest{
		Resource:                        MirrorPath,
		Path:                            r.URL.Path,
		HTTPMethod:                      r.Method,
		Headers:                         headers,
		MultiValueHeaders:               multi,
		QueryStringParameters:           query,
		MultiValueQueryStringParameters: r.URL.Query(),
		Body:                            string(body),
	}, nil
}

func writeResponse(c echo.Context, resp events.APIGatewayProxyResponse) error {
	h := c.Response().Header()
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			return fmt.Errorf("server: decode base64 response: %w", err)
		}
		body = decoded
	}

	c.Response().WriteHeader(resp.StatusCode)
	if len(body) == 0 {
		return nil
	}
	_, err := c.Response().Write(body)
	return err
}
