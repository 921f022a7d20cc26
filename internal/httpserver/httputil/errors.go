package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// WriteError standardizes JSON error responses.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	return WriteKindError(c, status, "", msg)
}

// WriteKindError is WriteError plus a machine-readable kind.
func WriteKindError(c *fiber.Ctx, status int, kind, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	body := fiber.Map{"error": msg}
	if kind != "" {
		body["kind"] = kind
	}
	return c.Status(status).JSON(body)
}
