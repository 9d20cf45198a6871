package handlers

import "github.com/gofiber/fiber/v2"

// ServePage is the placeholder behind the guarded page routes; the actual
// pages are rendered by the front-end deployment sitting in front of this
// API.
func ServePage(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}
