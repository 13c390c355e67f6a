package handlers

import (
	"quest-hunt-system/models"
	"quest-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupTeamRoutes wires registration and team lookups used by the bot.
func SetupTeamRoutes(app *fiber.App, teams *services.TeamService) {
	api := app.Group("/api")

	api.Post("/users/register", func(c *fiber.Ctx) error {
		var body struct {
			TgID      string `json:"tg_id"`
			Phone     string `json:"phone"`
			FirstName string `json:"first_name"`
		}
		if err := c.BodyParser(&body); err != nil || body.TgID == "" || body.FirstName == "" {
			return badRequest(c, "tg_id and first_name are required")
		}

		result, err := teams.RegisterOrAssign(body.TgID, body.Phone, body.FirstName)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(result)
	})

	api.Get("/teams/by-tg/:tg_id", func(c *fiber.Ctx) error {
		_, member, team, err := teams.MemberByTag(c.Params("tg_id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"team_id":    team.ID,
			"team_name":  team.Name,
			"role":       member.Role,
			"is_captain": member.Role == models.RoleCaptain,
		})
	})

	api.Get("/teams/roster/by-tg/:tg_id", func(c *fiber.Ctx) error {
		view, err := teams.Roster(c.Params("tg_id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(view)
	})

	api.Post("/teams/rename", func(c *fiber.Ctx) error {
		var body struct {
			TgID    string `json:"tg_id"`
			NewName string `json:"new_name"`
		}
		if err := c.BodyParser(&body); err != nil || body.TgID == "" {
			return badRequest(c, "tg_id and new_name are required")
		}

		team, err := teams.Rename(body.TgID, body.NewName)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"ok":        true,
			"team_id":   team.ID,
			"team_name": team.Name,
			"renamed":   true,
		})
	})
}
