package middleware

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"realtime_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() *fiber.App {
	log := zerolog.Nop()
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(log),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(Recover(log))
	app.Use(RequestID())
	app.Use(RequestLogger(log))
	app.Use(SecurityHeaders())
	return app
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestErrorHandler(t *testing.T) {
	app := newTestApp()
	app.Get("/app", func(c *fiber.Ctx) error { return apperr.NotFound("order") })
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.ErrUpgradeRequired })
	app.Get("/plain", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("bad") })

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/app", 404, apperr.CodeNotFound},
		{"/fiber", 426, "UPGRADE_REQUIRED"},
		{"/plain", 500, apperr.CodeInternalError},
		{"/panic", 500, apperr.CodeInternalError},
		{"/missing", 404, apperr.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeError(t, resp.Body)
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.RequestID)
			assert.Equal(t, body.RequestID, resp.Header.Get("X-Request-ID"))
		})
	}
}

func TestRequestIDKeepsIncomingHeader(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	resp, err := app.Test(req)
	require.NoError(t, err)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "abc", string(body))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestIPRateLimiter(t *testing.T) {
	rl := NewIPRateLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"), "buckets are per IP")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("1.1.1.1"))

	now = now.Add(10 * time.Minute)
	rl.cleanup()
	assert.Equal(t, 0, rl.Size())
}

func TestIPRateLimiterDisabled(t *testing.T) {
	rl := NewIPRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("1.1.1.1"))
	}
	assert.Equal(t, 0, rl.Size())
}

func TestIPRateLimiterHandler(t *testing.T) {
	app := newTestApp()
	app.Use(NewIPRateLimiter(1, 1).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, apperr.CodeRateLimited, decodeError(t, resp.Body).Error.Code)
}
