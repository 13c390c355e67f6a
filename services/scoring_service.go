package services

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"quest-hunt-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ScoringService is the read side of the ledger. Scores are recomputed from
// progress_records on every call — there is no counter to drift.
type ScoringService struct {
	DB *gorm.DB
}

func NewScoringService(db *gorm.DB) *ScoringService {
	return &ScoringService{DB: db}
}

// LeaderboardRow is one ranked team.
type LeaderboardRow struct {
	TeamID         string     `json:"team_id"`
	TeamName       string     `json:"team_name"`
	Score          int        `json:"score"`
	TasksDone      int        `json:"tasks_done"`
	TotalTasks     int        `json:"total_tasks"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ElapsedSeconds *int64     `json:"elapsed_seconds,omitempty"`
	ScoreReachedAt *time.Time `json:"-"`
}

// TeamScore sums points_awarded over the team's ledger records.
func (s *ScoringService) TeamScore(teamID string) (int, error) {
	var total int64
	err := s.DB.Model(&models.ProgressRecord{}).
		Where("team_id = ?", teamID).
		Select("COALESCE(SUM(points_awarded), 0)").
		Scan(&total).Error
	return int(total), err
}

// Leaderboard ranks every team by score descending. Ties break by the
// earliest moment a team reached its current score (the latest completed_at
// among its awarded records), then by team id, so repeated calls over the
// same ledger always return the same order.
func (s *ScoringService) Leaderboard() ([]LeaderboardRow, error) {
	var rows []LeaderboardRow
	err := s.DB.Raw(`
		SELECT t.id AS team_id, t.name AS team_name,
		       COALESCE(SUM(p.points_awarded), 0) AS score,
		       COUNT(CASE WHEN p.status IN (?, ?) THEN 1 END) AS tasks_done,
		       MAX(CASE WHEN p.points_awarded > 0 THEN p.completed_at END) AS score_reached_at,
		       t.started_at, t.finished_at
		FROM teams t
		LEFT JOIN progress_records p ON p.team_id = t.id AND p.deleted_at IS NULL
		WHERE t.deleted_at IS NULL
		GROUP BY t.id, t.name, t.started_at, t.finished_at
		ORDER BY score DESC, score_reached_at ASC NULLS LAST, t.id ASC`,
		models.StatusAutoApproved, models.StatusApproved).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	var totalTasks int64
	if err := s.DB.Model(&models.Task{}).Where("is_active = ?", true).Count(&totalTasks).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range rows {
		rows[i].TotalTasks = int(totalTasks)
		if st := rows[i].StartedAt; st != nil {
			end := now
			if fin := rows[i].FinishedAt; fin != nil {
				end = *fin
			}
			elapsed := int64(end.Sub(*st).Seconds())
			rows[i].ElapsedSeconds = &elapsed
		}
	}
	return rows, nil
}

// StreamLeaderboardSSE pushes the leaderboard over SSE whenever it changes,
// so dashboards update live while teams scan.
func (s *ScoringService) StreamLeaderboardSSE(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		var lastPayload []byte

		send := func() bool {
			rows, err := s.Leaderboard()
			if err != nil {
				log.Printf("SSE leaderboard query error: %v", err)
				return true
			}
			payload, _ := json.Marshal(rows)
			if bytes.Equal(payload, lastPayload) {
				// keepalive comment so proxies don't cut the stream
				w.WriteString(":\n\n")
				return w.Flush() == nil
			}
			lastPayload = payload
			fmt.Fprintf(w, "event: leaderboard\ndata: %s\n\n", payload)
			return w.Flush() == nil
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ticker.C:
				if !send() {
					// Client disconnected
					return
				}
			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}
