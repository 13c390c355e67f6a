package handlers

import (
	"errors"

	"quest-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

// kindOf maps service errors to an HTTP status and a machine-readable error
// kind. Conflicts and preconditions are expected, user-visible outcomes
// (4xx); anything unmapped is a storage failure (5xx) and the caller must
// retry the whole operation.
func kindOf(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrDuplicateCompletion):
		return fiber.StatusConflict, "duplicate_completion"
	case errors.Is(err, services.ErrAlreadyDecided):
		return fiber.StatusConflict, "already_decided"
	case errors.Is(err, services.ErrNoPendingTask):
		return fiber.StatusConflict, "no_pending_task"
	case errors.Is(err, services.ErrGameNotRunning):
		return fiber.StatusConflict, "game_not_running"
	case errors.Is(err, services.ErrTeamNotStarted):
		return fiber.StatusConflict, "team_not_started"
	case errors.Is(err, services.ErrSessionTransition):
		return fiber.StatusConflict, "invalid_session_transition"
	case errors.Is(err, services.ErrTeamStarted):
		return fiber.StatusConflict, "team_already_started"
	case errors.Is(err, services.ErrTeamNotFull):
		return fiber.StatusConflict, "team_not_full"
	case errors.Is(err, services.ErrRenameUsed):
		return fiber.StatusConflict, "rename_already_used"
	case errors.Is(err, services.ErrDefaultTeamName):
		return fiber.StatusConflict, "rename_required"
	case errors.Is(err, services.ErrNameTaken):
		return fiber.StatusConflict, "team_name_taken"
	case errors.Is(err, services.ErrTaskCodeTaken):
		return fiber.StatusConflict, "task_code_taken"
	case errors.Is(err, services.ErrNoTeam):
		return fiber.StatusConflict, "no_team"
	case errors.Is(err, services.ErrNotMember):
		return fiber.StatusConflict, "not_a_member"
	case errors.Is(err, services.ErrNotCaptain):
		return fiber.StatusForbidden, "captain_only"
	case errors.Is(err, services.ErrTaskNotFound):
		return fiber.StatusNotFound, "task_not_found"
	case errors.Is(err, services.ErrTeamNotFound):
		return fiber.StatusNotFound, "team_not_found"
	case errors.Is(err, services.ErrUserNotFound):
		return fiber.StatusNotFound, "user_not_found"
	case errors.Is(err, services.ErrProgressNotFound):
		return fiber.StatusNotFound, "progress_not_found"
	case errors.Is(err, services.ErrSessionNotFound):
		return fiber.StatusNotFound, "session_not_found"
	case errors.Is(err, services.ErrNameTooShort):
		return fiber.StatusBadRequest, "name_too_short"
	case errors.Is(err, services.ErrInvalidOutcome):
		return fiber.StatusBadRequest, "invalid_outcome"
	}
	return fiber.StatusInternalServerError, "storage_failure"
}

func fail(c *fiber.Ctx, err error) error {
	status, kind := kindOf(err)
	return c.Status(status).JSON(fiber.Map{
		"error":  kind,
		"detail": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation",
		"detail": detail,
	})
}
