package controllers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/enforcement"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/operator"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/scheduler"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/syncer"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/verify"
)

// USER_NAME is the Locals key the basic auth middleware stores the operator under
const USER_NAME = "username"

// ExtractUsername gets the operator name from Locals (set by middleware)
func ExtractUsername(c *fiber.Ctx) string {
	if userNameValue := c.Locals(USER_NAME); userNameValue != nil {
		if userName, ok := userNameValue.(string); ok && userName != "" {
			return userName
		}
	}
	return "operator"
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, c.Params(name))
	}
	return uint(id), nil
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
}

// respondError maps engine errors to HTTP responses
func respondError(c *fiber.Ctx, err error) error {
	var se *syncer.SyncError
	switch {
	case errors.Is(err, syncer.ErrSubscriberNotFound), errors.Is(err, syncer.ErrPolicyNotFound),
		errors.Is(err, syncer.ErrCohortNotFound), errors.Is(err, scheduler.ErrUnknownJob),
		repository.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, enforcement.ErrNotDisabled), errors.Is(err, scheduler.ErrJobRunning),
		errors.Is(err, repository.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
	case syncer.IsValidation(err), errors.Is(err, operator.ErrInvalidInput):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	case errors.As(err, &se):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":      "sync_failed",
			"message":    se.Error(),
			"kind":       se.Kind,
			"provider":   se.Provider,
			"failure_id": se.FailureID,
		})
	case errors.Is(err, verify.ErrRouterUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": err.Error()})
	}
	log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Unexpected error"})
}
