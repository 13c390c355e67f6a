package handlers

import (
	"errors"
	"fmt"
	"time"

	"quest-hunt-system/services"
	"quest-hunt-system/utils"

	"github.com/gofiber/fiber/v2"
)

// SetupGameRoutes wires the participant-facing quest endpoints: captain
// start, QR scans, proof uploads and the leaderboard.
func SetupGameRoutes(app *fiber.App, progress *services.ProgressService, scoring *services.ScoringService, teams *services.TeamService, sessions *services.SessionService) {
	api := app.Group("/api")

	api.Post("/game/start", func(c *fiber.Ctx) error {
		var body struct {
			TgID string `json:"tg_id"`
		}
		if err := c.BodyParser(&body); err != nil || body.TgID == "" {
			return badRequest(c, "tg_id is required")
		}

		team, already, err := teams.StartQuest(body.TgID)
		if err != nil {
			return fail(c, err)
		}

		msg := "Started"
		if already {
			msg = "Already started"
		}
		return c.JSON(fiber.Map{
			"ok":         true,
			"message":    msg,
			"team_id":    team.ID,
			"team_name":  team.Name,
			"started_at": team.StartedAt,
		})
	})

	api.Post("/game/scan", func(c *fiber.Ctx) error {
		var body struct {
			TgID string `json:"tg_id"`
			Code string `json:"code"`
		}
		if err := c.BodyParser(&body); err != nil || body.TgID == "" || body.Code == "" {
			return badRequest(c, "tg_id and code are required")
		}

		sess, err := sessions.Current()
		if err != nil {
			return fail(c, err)
		}
		user, team, err := teams.CaptainByTag(body.TgID)
		if err != nil {
			return fail(c, err)
		}

		result, err := progress.RecordScan(sess.ID, team.ID, body.Code, user.ID)
		if errors.Is(err, services.ErrDuplicateCompletion) {
			// The retried scan comes back with the surviving record so the
			// caller sees its real status, not an opaque failure
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":             "duplicate_completion",
				"status":            result.Record.Status,
				"points_awarded":    0,
				"already_solved":    true,
				"task_title":        result.Task.Title,
				"team_total_points": result.TeamTotalPoints,
			})
		}
		if err != nil {
			return fail(c, err)
		}

		return c.JSON(fiber.Map{
			"ok":                true,
			"progress_id":       result.Record.ID,
			"status":            result.Record.Status,
			"points_awarded":    result.Record.PointsAwarded,
			"already_solved":    false,
			"task_title":        result.Task.Title,
			"team_id":           team.ID,
			"team_name":         team.Name,
			"team_total_points": result.TeamTotalPoints,
		})
	})

	// JSON variant: the bot already holds a messenger file id, which is a
	// perfectly good opaque proof_ref
	api.Post("/game/photo", func(c *fiber.Ctx) error {
		var body struct {
			TgID     string `json:"tg_id"`
			Code     string `json:"code"`
			ProofRef string `json:"proof_ref"`
			TgFileID string `json:"tg_file_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid JSON body")
		}
		proofRef := body.ProofRef
		if proofRef == "" {
			proofRef = body.TgFileID
		}
		if body.TgID == "" || body.Code == "" || proofRef == "" {
			return badRequest(c, "tg_id, code and proof_ref are required")
		}

		sess, err := sessions.Current()
		if err != nil {
			return fail(c, err)
		}
		user, team, err := teams.CaptainByTag(body.TgID)
		if err != nil {
			return fail(c, err)
		}

		rec, err := progress.SubmitProof(sess.ID, team.ID, body.Code, proofRef, user.ID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"ok":          true,
			"message":     "Queued for moderation",
			"progress_id": rec.ID,
		})
	})

	// Multipart variant: the photo itself travels with the request
	api.Post("/game/submit-photo", func(c *fiber.Ctx) error {
		tgID := c.FormValue("tg_id")
		code := c.FormValue("code")
		if tgID == "" || code == "" {
			return badRequest(c, "tg_id and code are required")
		}
		file, err := c.FormFile("file")
		if err != nil {
			return badRequest(c, "file is required")
		}

		sess, err := sessions.Current()
		if err != nil {
			return fail(c, err)
		}
		user, team, err := teams.CaptainByTag(tgID)
		if err != nil {
			return fail(c, err)
		}

		name := file.Filename
		if name == "" {
			name = "proof.jpg"
		}
		filename := fmt.Sprintf("team%s_%d_%s", team.ID, time.Now().UTC().Unix(), utils.SanitizeFilename(name))

		var proofRef string
		if utils.ProofStoreEnabled() {
			proofRef, err = utils.UploadProof(file, "proofs/"+filename)
		} else {
			proofRef, err = utils.SaveProofFile(file, filename)
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":  "storage_failure",
				"detail": "failed to store proof photo",
			})
		}

		rec, err := progress.SubmitProof(sess.ID, team.ID, code, proofRef, user.ID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"ok":          true,
			"message":     "Queued for moderation",
			"progress_id": rec.ID,
			"proof_ref":   proofRef,
		})
	})

	api.Get("/leaderboard", func(c *fiber.Ctx) error {
		rows, err := scoring.Leaderboard()
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(rows)
	})

	api.Get("/leaderboard/stream", scoring.StreamLeaderboardSSE)

	api.Get("/teams/:team_id/score", func(c *fiber.Ctx) error {
		score, err := scoring.TeamScore(c.Params("team_id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"team_id": c.Params("team_id"), "score": score})
	})
}
