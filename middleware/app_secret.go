package middleware

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
)

// AppSecretMiddleware validates the shared secret the bot and admin console
// send with every call. Credential management itself lives outside this
// service; we only compare the header.
func AppSecretMiddleware() fiber.Handler {
	expectedSecret := os.Getenv("APP_SECRET")
	if expectedSecret == "" {
		log.Fatal("❌ APP_SECRET is not set — service cannot authenticate callers")
	}

	return func(c *fiber.Ctx) error {
		secret := c.Get("x-app-secret")
		if secret == "" {
			log.Printf("🚫 [APP_SECRET] Missing x-app-secret header for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}
		if secret != expectedSecret {
			log.Printf("❌ [APP_SECRET] Invalid secret for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}
		return c.Next()
	}
}
