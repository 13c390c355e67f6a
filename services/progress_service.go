package services

import (
	"errors"
	"log"
	"time"

	"quest-hunt-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Conflict and precondition errors surfaced by the progress engine. Handlers
// map these to 4xx responses with a machine-readable kind; they are expected
// outcomes, not system failures.
var (
	ErrGameNotRunning      = errors.New("game session is not running")
	ErrTeamNotStarted      = errors.New("team has not started the quest yet")
	ErrTeamNotFound        = errors.New("team not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrDuplicateCompletion = errors.New("task already completed by this team")
	ErrNoPendingTask       = errors.New("no pending submission for this task")
	ErrAlreadyDecided      = errors.New("submission already decided")
	ErrProgressNotFound    = errors.New("progress record not found")
	ErrInvalidOutcome      = errors.New("outcome must be approve or reject")
)

// ProgressService owns the progress ledger: idempotent scan ingestion, proof
// attachment and the moderation decision transition.
type ProgressService struct {
	DB *gorm.DB
}

func NewProgressService(db *gorm.DB) *ProgressService {
	return &ProgressService{DB: db}
}

// ScanResult is what a scan returns to the caller: the created (or, on a
// duplicate, the existing) record plus the task and running team total.
type ScanResult struct {
	Record          *models.ProgressRecord `json:"record"`
	Task            *models.Task           `json:"task"`
	Team            *models.Team           `json:"team"`
	AlreadySolved   bool                   `json:"already_solved"`
	TeamTotalPoints int                    `json:"team_total_points"`
}

// RecordScan registers a task completion attempt for a team.
//
// The lookup-then-insert race is settled by the database: the insert carries
// ON CONFLICT (team_id, task_id) WHERE status <> 'rejected' DO NOTHING
// against the partial unique index, so of N concurrent scans for the same
// pair exactly one row is created and the rest observe RowsAffected == 0 and
// come back as ErrDuplicateCompletion (with the surviving record attached, so
// a retried scan sees the same status rather than an opaque failure).
func (s *ProgressService) RecordScan(sessionID, teamID, code, submittedByUserID string) (*ScanResult, error) {
	if err := s.requireRunning(sessionID); err != nil {
		return nil, err
	}

	var team models.Team
	if err := s.DB.First(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	if team.StartedAt == nil {
		return nil, ErrTeamNotStarted
	}

	var task models.Task
	if err := s.DB.Where("code = ? AND is_active = ?", code, true).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	rec := &models.ProgressRecord{
		ID:     uuid.NewString(),
		TeamID: team.ID,
		TaskID: task.ID,
		Status: models.StatusPending,
	}
	if submittedByUserID != "" {
		rec.SubmittedByUserID = &submittedByUserID
	}
	if !task.RequiresProof {
		rec.Status = models.StatusAutoApproved
		rec.PointsAwarded = task.Points
		rec.CompletedAt = &now
		rec.DecidedAt = &now
	}

	res := s.DB.Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "team_id"}, {Name: "task_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{gorm.Expr("status <> 'rejected'")}},
		DoNothing:   true,
	}).Create(rec)
	if res.Error != nil {
		return nil, res.Error
	}

	result := &ScanResult{Task: &task, Team: &team}

	if res.RowsAffected == 0 {
		// Lost the insert — an active or settled-positive record already exists
		var existing models.ProgressRecord
		if err := s.DB.
			Where("team_id = ? AND task_id = ? AND status <> ?", team.ID, task.ID, models.StatusRejected).
			First(&existing).Error; err != nil {
			return nil, err
		}
		result.Record = &existing
		result.AlreadySolved = true
		total, terr := s.TeamTotal(team.ID)
		if terr != nil {
			return nil, terr
		}
		result.TeamTotalPoints = total
		return result, ErrDuplicateCompletion
	}

	result.Record = rec
	if rec.Settled() {
		s.maybeFinishTeam(&team)
	}
	total, err := s.TeamTotal(team.ID)
	if err != nil {
		return nil, err
	}
	result.TeamTotalPoints = total
	return result, nil
}

// SubmitProof attaches a proof handle to the pending record for (team, task).
// Re-submission before a decision overwrites the handle on the same record.
func (s *ProgressService) SubmitProof(sessionID, teamID, code, proofRef, submittedByUserID string) (*models.ProgressRecord, error) {
	if err := s.requireRunning(sessionID); err != nil {
		return nil, err
	}

	var task models.Task
	if err := s.DB.Where("code = ? AND is_active = ?", code, true).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	updates := map[string]interface{}{"proof_ref": proofRef}
	if submittedByUserID != "" {
		updates["submitted_by_user_id"] = submittedByUserID
	}

	// Guarded by status = pending: covers never-scanned, proof-free and
	// already-decided tasks in one shot
	res := s.DB.Model(&models.ProgressRecord{}).
		Where("team_id = ? AND task_id = ? AND status = ?", teamID, task.ID, models.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoPendingTask
	}

	var rec models.ProgressRecord
	if err := s.DB.
		Where("team_id = ? AND task_id = ? AND status = ?", teamID, task.ID, models.StatusPending).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A moderator decided the record between our update and this read
			return nil, ErrNoPendingTask
		}
		return nil, err
	}
	return &rec, nil
}

// Decide settles a pending submission. Decisions are final and single-shot:
// the transition is a conditional UPDATE guarded by status = 'pending', so of
// two concurrent decisions exactly one applies and the other sees
// ErrAlreadyDecided. Approval credits the task's points; rejection leaves the
// record at zero and frees the (team, task) slot for a fresh scan.
func (s *ProgressService) Decide(progressID, outcome, decidedBy string) (*models.ProgressRecord, error) {
	if outcome != models.OutcomeApprove && outcome != models.OutcomeReject {
		return nil, ErrInvalidOutcome
	}

	var rec models.ProgressRecord
	if err := s.DB.First(&rec, "id = ?", progressID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProgressNotFound
		}
		return nil, err
	}
	if rec.Status != models.StatusPending {
		return nil, ErrAlreadyDecided
	}

	var task models.Task
	if err := s.DB.First(&task, "id = ?", rec.TaskID).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"decided_at": now,
		"decided_by": decidedBy,
	}
	if outcome == models.OutcomeApprove {
		updates["status"] = models.StatusApproved
		updates["points_awarded"] = task.Points
		updates["completed_at"] = now
	} else {
		updates["status"] = models.StatusRejected
	}

	res := s.DB.Model(&models.ProgressRecord{}).
		Where("id = ? AND status = ?", progressID, models.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyDecided
	}

	if err := s.DB.First(&rec, "id = ?", progressID).Error; err != nil {
		return nil, err
	}

	if rec.Status == models.StatusApproved {
		var team models.Team
		if err := s.DB.First(&team, "id = ?", rec.TeamID).Error; err == nil {
			s.maybeFinishTeam(&team)
		}
	}
	return &rec, nil
}

// PendingProof is one moderation queue entry, joined with team and task names
// for the admin console.
type PendingProof struct {
	ID                string    `json:"id"`
	TeamID            string    `json:"team_id"`
	TeamName          string    `json:"team_name"`
	TaskID            string    `json:"task_id"`
	TaskTitle         string    `json:"task_title"`
	TaskCode          string    `json:"task_code"`
	Points            int       `json:"points"`
	ProofRef          *string   `json:"proof_ref,omitempty"`
	SubmittedByUserID *string   `json:"submitted_by_user_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ListPending enumerates the moderation queue oldest-first, so the proof that
// has waited longest is decided first.
func (s *ProgressService) ListPending(limit, offset int) ([]PendingProof, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []PendingProof
	err := s.DB.Raw(`
		SELECT p.id, p.team_id, t.name AS team_name,
		       p.task_id, k.title AS task_title, k.code AS task_code, k.points,
		       p.proof_ref, p.submitted_by_user_id, p.created_at
		FROM progress_records p
		JOIN teams t ON t.id = p.team_id
		JOIN tasks k ON k.id = p.task_id
		WHERE p.status = ? AND p.deleted_at IS NULL
		  AND t.deleted_at IS NULL AND k.deleted_at IS NULL
		ORDER BY p.created_at ASC
		LIMIT ? OFFSET ?`,
		models.StatusPending, limit, offset).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TeamTotal recomputes the team's score from the ledger. No cached counter
// exists anywhere, so this can never drift.
func (s *ProgressService) TeamTotal(teamID string) (int, error) {
	var total int64
	err := s.DB.Model(&models.ProgressRecord{}).
		Where("team_id = ?", teamID).
		Select("COALESCE(SUM(points_awarded), 0)").
		Scan(&total).Error
	return int(total), err
}

// PendingCount returns the moderation queue depth (used by the watcher).
func (s *ProgressService) PendingCount() (int64, error) {
	var n int64
	err := s.DB.Model(&models.ProgressRecord{}).
		Where("status = ?", models.StatusPending).
		Count(&n).Error
	return n, err
}

func (s *ProgressService) requireRunning(sessionID string) error {
	var sess models.GameSession
	if err := s.DB.Select("state").First(&sess, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGameNotRunning
		}
		return err
	}
	if sess.State != models.SessionRunning {
		return ErrGameNotRunning
	}
	return nil
}

// maybeFinishTeam stamps FinishedAt once every active task is settled
// positive. Best-effort: a failure here never fails the scan or decision that
// triggered it.
func (s *ProgressService) maybeFinishTeam(team *models.Team) {
	if team.FinishedAt != nil {
		return
	}

	var totalActive int64
	if err := s.DB.Model(&models.Task{}).Where("is_active = ?", true).Count(&totalActive).Error; err != nil {
		log.Printf("❌ finish check: counting active tasks for team %s: %v", team.ID, err)
		return
	}
	if totalActive == 0 {
		return
	}

	var done int64
	if err := s.DB.Model(&models.ProgressRecord{}).
		Where("team_id = ? AND status IN ?", team.ID, []string{models.StatusAutoApproved, models.StatusApproved}).
		Count(&done).Error; err != nil {
		log.Printf("❌ finish check: counting settled tasks for team %s: %v", team.ID, err)
		return
	}
	if done < totalActive {
		return
	}

	now := time.Now().UTC()
	res := s.DB.Model(&models.Team{}).
		Where("id = ? AND finished_at IS NULL", team.ID).
		Update("finished_at", now)
	if res.Error != nil {
		log.Printf("❌ finish check: stamping team %s: %v", team.ID, res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("🏁 Team %s finished the quest (%d/%d tasks)", team.Name, done, totalActive)
	}
}
