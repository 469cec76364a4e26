package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
	"github.com/StyleLoft/StyleLoft/internal/pkg/database"
	"github.com/StyleLoft/StyleLoft/internal/pkg/jobqueue"
	"github.com/StyleLoft/StyleLoft/internal/pkg/teams"
	"github.com/StyleLoft/StyleLoft/internal/pkg/usercontext"
)

func newTeamsService() *teams.Service {
	db := database.GetDB()
	return teams.NewService(
		teams.NewRepository(db),
		billing.NewServiceFromDB(db),
		billing.NewStripeClientFromEnv(),
		jobqueue.GetManager().GetQueue().EnqueueJob,
	)
}

type createTeamRequest struct {
	Name      string `json:"name"`
	SeatLimit int    `json:"seat_limit"`
}

// HandleCreateTeam creates a team for an owner on an active salon plan.
func HandleCreateTeam(c *fiber.Ctx) error {
	var req createTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid JSON body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "team name is required"})
	}
	if req.SeatLimit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "seat_limit must not be negative"})
	}

	team, err := newTeamsService().CreateTeam(c.Context(), usercontext.GetUserID(c), req.Name, req.SeatLimit)
	if err != nil {
		if errors.Is(err, teams.ErrSalonPlanNeeded) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusCreated).JSON(team)
}

// HandleJoinTeam enrolls the caller into a team. The membership commit is
// unconditional; a pending individual card subscription is scheduled to
// cancel at period end, inline when the provider cooperates and via the job
// queue when it does not.
func HandleJoinTeam(c *fiber.Ctx) error {
	teamID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || teamID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid team id"})
	}

	result, err := newTeamsService().JoinTeam(c.Context(), uint(teamID), usercontext.GetUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, teams.ErrTeamNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
		case errors.Is(err, teams.ErrSeatLimitReached):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}
	return c.JSON(result)
}
