package handlers

import (
	"strconv"
	"time"

	"quest-hunt-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes wires the admin console: task catalog CRUD, moderation
// queue, session control and team management. The shared app secret already
// guards everything globally.
func SetupAdminRoutes(app *fiber.App, tasks *services.TaskService, progress *services.ProgressService, teams *services.TeamService, sessions *services.SessionService) {
	admin := app.Group("/api/admin")

	// ---- task catalog ----

	admin.Get("/tasks", func(c *fiber.Ctx) error {
		items, err := tasks.List()
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(items)
	})

	admin.Post("/tasks", func(c *fiber.Ctx) error {
		var in services.TaskCreateIn
		if err := c.BodyParser(&in); err != nil || in.Title == "" {
			return badRequest(c, "title is required")
		}
		if in.Points != nil && *in.Points < 0 {
			return badRequest(c, "points must be >= 0")
		}
		task, err := tasks.Create(in)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(task)
	})

	admin.Patch("/tasks/:id", func(c *fiber.Ctx) error {
		var in services.TaskUpdateIn
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid JSON body")
		}
		if in.Points != nil && *in.Points < 0 {
			return badRequest(c, "points must be >= 0")
		}
		task, err := tasks.Update(c.Params("id"), in)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(task)
	})

	admin.Delete("/tasks/:id", func(c *fiber.Ctx) error {
		if err := tasks.Delete(c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	admin.Get("/tasks/:id/qr.png", func(c *fiber.Ctx) error {
		size, _ := strconv.Atoi(c.Query("size", "512"))
		png, err := tasks.QRCodePNG(c.Params("id"), size)
		if err != nil {
			return fail(c, err)
		}
		c.Set("Content-Type", "image/png")
		return c.Send(png)
	})

	admin.Post("/tasks/reset-progress", func(c *fiber.Ctx) error {
		if err := tasks.ResetProgress(); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	// ---- moderation queue ----

	admin.Get("/proofs/pending", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		offset, _ := strconv.Atoi(c.Query("offset", "0"))
		rows, err := progress.ListPending(limit, offset)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(rows)
	})

	decide := func(outcome string) fiber.Handler {
		return func(c *fiber.Ctx) error {
			var body struct {
				DecidedBy string `json:"decided_by"`
			}
			_ = c.BodyParser(&body)
			if body.DecidedBy == "" {
				body.DecidedBy = "admin"
			}

			rec, err := progress.Decide(c.Params("id"), outcome, body.DecidedBy)
			if err != nil {
				return fail(c, err)
			}

			total, err := progress.TeamTotal(rec.TeamID)
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(fiber.Map{
				"ok":                true,
				"record":            rec,
				"team_total_points": total,
			})
		}
	}
	admin.Post("/proofs/:id/approve", decide("approve"))
	admin.Post("/proofs/:id/reject", decide("reject"))

	// ---- game session ----

	admin.Get("/session", func(c *fiber.Ctx) error {
		sess, err := sessions.Current()
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(sess)
	})

	admin.Post("/session/start", func(c *fiber.Ctx) error {
		var body struct {
			EndsAt *time.Time `json:"ends_at"`
		}
		_ = c.BodyParser(&body)

		sess, err := sessions.Current()
		if err != nil {
			return fail(c, err)
		}
		sess, err = sessions.Start(sess.ID, body.EndsAt)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(sess)
	})

	admin.Post("/session/end", func(c *fiber.Ctx) error {
		sess, err := sessions.Current()
		if err != nil {
			return fail(c, err)
		}
		sess, err = sessions.End(sess.ID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(sess)
	})

	// ---- teams ----

	admin.Get("/teams", func(c *fiber.Ctx) error {
		views, err := teams.AdminListTeams()
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(views)
	})

	admin.Post("/teams/lock", func(c *fiber.Ctx) error {
		if err := teams.LockAll(); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	admin.Post("/teams/unlock", func(c *fiber.Ctx) error {
		if err := teams.UnlockAll(); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	admin.Post("/teams/:id/set-captain", func(c *fiber.Ctx) error {
		var body struct {
			UserID string `json:"user_id"`
			TgID   string `json:"tg_id"`
		}
		if err := c.BodyParser(&body); err != nil || (body.UserID == "" && body.TgID == "") {
			return badRequest(c, "provide user_id or tg_id")
		}
		view, err := teams.SetCaptain(c.Params("id"), body.UserID, body.TgID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(view)
	})

	admin.Post("/teams/:id/unset-captain", func(c *fiber.Ctx) error {
		view, err := teams.UnsetCaptain(c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(view)
	})

	admin.Post("/members/move", func(c *fiber.Ctx) error {
		var body struct {
			UserID      string `json:"user_id"`
			TgID        string `json:"tg_id"`
			DestTeamID  string `json:"dest_team_id"`
			MakeCaptain bool   `json:"make_captain"`
		}
		if err := c.BodyParser(&body); err != nil || (body.UserID == "" && body.TgID == "") || body.DestTeamID == "" {
			return badRequest(c, "provide user_id or tg_id, and dest_team_id")
		}
		view, err := teams.MoveMember(body.UserID, body.TgID, body.DestTeamID, body.MakeCaptain)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(view)
	})

	// Bulk-load the signup sheet; the bot links identities by phone later
	admin.Post("/participants/import", func(c *fiber.Ctx) error {
		file, err := c.FormFile("file")
		if err != nil {
			return badRequest(c, "file is required")
		}
		f, err := file.Open()
		if err != nil {
			return badRequest(c, "cannot read uploaded file")
		}
		defer f.Close()

		report, err := teams.ImportParticipants(f)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(report)
	})

	admin.Patch("/teams/:id", func(c *fiber.Ctx) error {
		var in services.TeamUpdateIn
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid JSON body")
		}
		view, err := teams.UpdateTeam(c.Params("id"), in)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(view)
	})
}
