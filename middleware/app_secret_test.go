package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newSecuredApp(t *testing.T, secret string) *fiber.App {
	t.Helper()
	t.Setenv("APP_SECRET", secret)

	app := fiber.New()
	app.Use(AppSecretMiddleware())
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	return app
}

func TestAppSecretAccepted(t *testing.T) {
	app := newSecuredApp(t, "hunt-secret")

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("x-app-secret", "hunt-secret")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAppSecretMissing(t *testing.T) {
	app := newSecuredApp(t, "hunt-secret")

	req := httptest.NewRequest("GET", "/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAppSecretWrong(t *testing.T) {
	app := newSecuredApp(t, "hunt-secret")

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("x-app-secret", "guess")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
