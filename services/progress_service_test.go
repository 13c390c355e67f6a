package services

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quest-hunt-system/models"
)

func TestRecordScanAutoApprove(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Falcons", true)
	seedTask(t, db, "t1", 3, false)

	result, err := svc.RecordScan(sess.ID, team.ID, "t1", "")
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if result.Record.Status != models.StatusAutoApproved {
		t.Fatalf("expected auto_approved, got %s", result.Record.Status)
	}
	if result.Record.PointsAwarded != 3 {
		t.Fatalf("expected 3 points awarded, got %d", result.Record.PointsAwarded)
	}
	if result.Record.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	if result.TeamTotalPoints != 3 {
		t.Fatalf("expected team total 3, got %d", result.TeamTotalPoints)
	}

	// Second scan is a duplicate: same record comes back, score untouched
	repeat, err := svc.RecordScan(sess.ID, team.ID, "t1", "")
	if !errors.Is(err, ErrDuplicateCompletion) {
		t.Fatalf("expected ErrDuplicateCompletion, got %v", err)
	}
	if repeat.Record.ID != result.Record.ID {
		t.Fatal("duplicate scan should return the original record")
	}
	if !repeat.AlreadySolved {
		t.Fatal("expected already_solved on duplicate")
	}
	if repeat.TeamTotalPoints != 3 {
		t.Fatalf("duplicate response must carry the real team total, got %d", repeat.TeamTotalPoints)
	}

	total, err := svc.TeamTotal(team.ID)
	if err != nil {
		t.Fatalf("team total: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected team total to stay 3, got %d", total)
	}

	var count int64
	db.Model(&models.ProgressRecord{}).Where("team_id = ?", team.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one progress record, got %d", count)
	}
}

func TestRecordScanConcurrentSingleAward(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Racers", true)
	seedTask(t, db, "race", 5, false)

	const n = 8
	var created, duplicate, failed int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.RecordScan(sess.ID, team.ID, "race", "")
			switch {
			case err == nil:
				atomic.AddInt64(&created, 1)
			case errors.Is(err, ErrDuplicateCompletion):
				atomic.AddInt64(&duplicate, 1)
			default:
				atomic.AddInt64(&failed, 1)
			}
		}()
	}
	wg.Wait()

	if failed != 0 {
		t.Fatalf("%d scans failed unexpectedly", failed)
	}
	if created != 1 {
		t.Fatalf("expected exactly 1 created, got %d (duplicates %d)", created, duplicate)
	}
	if duplicate != n-1 {
		t.Fatalf("expected %d duplicates, got %d", n-1, duplicate)
	}

	var count int64
	db.Model(&models.ProgressRecord{}).Where("team_id = ?", team.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected one progress record after %d concurrent scans, got %d", n, count)
	}
	total, _ := svc.TeamTotal(team.ID)
	if total != 5 {
		t.Fatalf("expected team total 5 after concurrent scans, got %d", total)
	}
}

func TestRecordScanProofGating(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Owls", true)
	seedTask(t, db, "photo-spot", 5, true)

	result, err := svc.RecordScan(sess.ID, team.ID, "photo-spot", "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.Record.Status != models.StatusPending {
		t.Fatalf("proof task must land in pending, got %s", result.Record.Status)
	}
	if result.Record.PointsAwarded != 0 {
		t.Fatalf("pending record must carry 0 points, got %d", result.Record.PointsAwarded)
	}

	total, _ := svc.TeamTotal(team.ID)
	if total != 0 {
		t.Fatalf("score must not include pending work, got %d", total)
	}
}

func TestRecordScanPreconditions(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	team := seedTeam(t, db, "Gate", true)
	seedTask(t, db, "t1", 1, false)

	notStarted := seedSession(t, db, models.SessionNotStarted)
	if _, err := svc.RecordScan(notStarted.ID, team.ID, "t1", ""); !errors.Is(err, ErrGameNotRunning) {
		t.Fatalf("expected ErrGameNotRunning before start, got %v", err)
	}

	ended := seedSession(t, db, models.SessionEnded)
	if _, err := svc.RecordScan(ended.ID, team.ID, "t1", ""); !errors.Is(err, ErrGameNotRunning) {
		t.Fatalf("expected ErrGameNotRunning after end, got %v", err)
	}

	running := seedSession(t, db, models.SessionRunning)

	lateTeam := seedTeam(t, db, "Late", false)
	if _, err := svc.RecordScan(running.ID, lateTeam.ID, "t1", ""); !errors.Is(err, ErrTeamNotStarted) {
		t.Fatalf("expected ErrTeamNotStarted, got %v", err)
	}

	if _, err := svc.RecordScan(running.ID, team.ID, "no-such-code", ""); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	inactive := seedTask(t, db, "inactive", 1, false)
	db.Model(inactive).Update("is_active", false)
	if _, err := svc.RecordScan(running.ID, team.ID, "inactive", ""); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for inactive task, got %v", err)
	}

	if _, err := svc.RecordScan(running.ID, "00000000-0000-0000-0000-000000000000", "t1", ""); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound, got %v", err)
	}
}

func TestSubmitProofLifecycle(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Foxes", true)
	seedTask(t, db, "selfie", 5, true)
	seedTask(t, db, "plain", 2, false)

	// No scan yet — nothing pending to attach to
	if _, err := svc.SubmitProof(sess.ID, team.ID, "selfie", "ref-1", ""); !errors.Is(err, ErrNoPendingTask) {
		t.Fatalf("expected ErrNoPendingTask before scan, got %v", err)
	}

	if _, err := svc.RecordScan(sess.ID, team.ID, "selfie", ""); err != nil {
		t.Fatalf("scan: %v", err)
	}

	rec, err := svc.SubmitProof(sess.ID, team.ID, "selfie", "ref-1", "")
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if rec.Status != models.StatusPending {
		t.Fatalf("proof submission must not change status, got %s", rec.Status)
	}
	if rec.ProofRef == nil || *rec.ProofRef != "ref-1" {
		t.Fatal("expected proof_ref to be attached")
	}

	// Re-submission overwrites the ref on the same record
	rec2, err := svc.SubmitProof(sess.ID, team.ID, "selfie", "ref-2", "")
	if err != nil {
		t.Fatalf("resubmit proof: %v", err)
	}
	if rec2.ID != rec.ID {
		t.Fatal("resubmission must reuse the pending record")
	}
	if *rec2.ProofRef != "ref-2" {
		t.Fatalf("expected proof_ref overwritten, got %s", *rec2.ProofRef)
	}

	// Auto-approved tasks never have a pending slot
	if _, err := svc.RecordScan(sess.ID, team.ID, "plain", ""); err != nil {
		t.Fatalf("scan plain: %v", err)
	}
	if _, err := svc.SubmitProof(sess.ID, team.ID, "plain", "ref", ""); !errors.Is(err, ErrNoPendingTask) {
		t.Fatalf("expected ErrNoPendingTask for proof-free task, got %v", err)
	}

	// Nor do decided ones
	if _, err := svc.Decide(rec.ID, models.OutcomeApprove, "mod"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if _, err := svc.SubmitProof(sess.ID, team.ID, "selfie", "ref-3", ""); !errors.Is(err, ErrNoPendingTask) {
		t.Fatalf("expected ErrNoPendingTask after decision, got %v", err)
	}
}

func TestDecideApproveFinality(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Bears", true)
	seedTask(t, db, "proof-me", 5, true)

	result, err := svc.RecordScan(sess.ID, team.ID, "proof-me", "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	rec, err := svc.Decide(result.Record.ID, models.OutcomeApprove, "mod-1")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if rec.Status != models.StatusApproved {
		t.Fatalf("expected approved, got %s", rec.Status)
	}
	if rec.PointsAwarded != 5 {
		t.Fatalf("expected 5 points on approval, got %d", rec.PointsAwarded)
	}
	if rec.DecidedAt == nil || rec.DecidedBy == nil || *rec.DecidedBy != "mod-1" {
		t.Fatal("expected decision metadata to be recorded")
	}

	total, _ := svc.TeamTotal(team.ID)
	if total != 5 {
		t.Fatalf("expected score 5 after approval, got %d", total)
	}

	// Decisions are single-shot: the second call must not flip the outcome
	if _, err := svc.Decide(result.Record.ID, models.OutcomeReject, "mod-2"); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	var stored models.ProgressRecord
	db.First(&stored, "id = ?", result.Record.ID)
	if stored.Status != models.StatusApproved || *stored.DecidedBy != "mod-1" {
		t.Fatal("second decision must not alter the stored outcome")
	}
}

func TestDecideRejectThenRescan(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Wolves", true)
	seedTask(t, db, "t2", 5, true)

	first, err := svc.RecordScan(sess.ID, team.ID, "t2", "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := svc.SubmitProof(sess.ID, team.ID, "t2", "blurry.jpg", ""); err != nil {
		t.Fatalf("submit proof: %v", err)
	}

	rejected, err := svc.Decide(first.Record.ID, models.OutcomeReject, "mod")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.StatusRejected || rejected.PointsAwarded != 0 {
		t.Fatal("rejection must leave zero points")
	}
	if total, _ := svc.TeamTotal(team.ID); total != 0 {
		t.Fatalf("expected score 0 after rejection, got %d", total)
	}

	// Rejected records don't block a fresh attempt
	second, err := svc.RecordScan(sess.ID, team.ID, "t2", "")
	if err != nil {
		t.Fatalf("re-scan after rejection: %v", err)
	}
	if second.Record.ID == first.Record.ID {
		t.Fatal("re-scan must create a fresh record, not resurrect the rejected one")
	}
	if second.Record.Status != models.StatusPending {
		t.Fatalf("expected fresh pending record, got %s", second.Record.Status)
	}

	var count int64
	db.Model(&models.ProgressRecord{}).Where("team_id = ?", team.ID).Count(&count)
	if count != 2 {
		t.Fatalf("rejected record must stay as audit trail, got %d records", count)
	}

	if _, err := svc.Decide(second.Record.ID, models.OutcomeApprove, "mod"); err != nil {
		t.Fatalf("approve retry: %v", err)
	}
	if total, _ := svc.TeamTotal(team.ID); total != 5 {
		t.Fatalf("expected score 5 after approved retry, got %d", total)
	}
}

func TestDecideValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)

	if _, err := svc.Decide("missing-id", models.OutcomeApprove, "mod"); !errors.Is(err, ErrProgressNotFound) {
		t.Fatalf("expected ErrProgressNotFound, got %v", err)
	}
	if _, err := svc.Decide("whatever", "maybe", "mod"); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestListPendingOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	teamA := seedTeam(t, db, "A", true)
	teamB := seedTeam(t, db, "B", true)
	seedTask(t, db, "p1", 1, true)
	seedTask(t, db, "p2", 2, true)

	r1, err := svc.RecordScan(sess.ID, teamA.ID, "p1", "")
	if err != nil {
		t.Fatalf("scan 1: %v", err)
	}
	r2, err := svc.RecordScan(sess.ID, teamB.ID, "p1", "")
	if err != nil {
		t.Fatalf("scan 2: %v", err)
	}
	r3, err := svc.RecordScan(sess.ID, teamA.ID, "p2", "")
	if err != nil {
		t.Fatalf("scan 3: %v", err)
	}

	// Force distinct creation times so the fairness ordering is observable
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{r2.Record.ID, r1.Record.ID, r3.Record.ID} {
		db.Model(&models.ProgressRecord{}).Where("id = ?", id).
			UpdateColumn("created_at", base.Add(time.Duration(i)*time.Minute))
	}

	rows, err := svc.ListPending(10, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 pending rows, got %d", len(rows))
	}
	if rows[0].ID != r2.Record.ID || rows[1].ID != r1.Record.ID || rows[2].ID != r3.Record.ID {
		t.Fatal("pending queue must be ordered oldest first")
	}
	if rows[0].TeamName != "B" || rows[0].TaskCode != "p1" {
		t.Fatalf("expected joined team/task fields, got %+v", rows[0])
	}

	page, err := svc.ListPending(1, 1)
	if err != nil {
		t.Fatalf("list pending page: %v", err)
	}
	if len(page) != 1 || page[0].ID != r1.Record.ID {
		t.Fatal("limit/offset must page through the queue in order")
	}
}

func TestListPendingHidesDeletedTaskAndTeam(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	teamA := seedTeam(t, db, "Kept", true)
	teamB := seedTeam(t, db, "Dropped", true)
	seedTask(t, db, "kept", 1, true)
	doomed := seedTask(t, db, "doomed", 1, true)

	if _, err := svc.RecordScan(sess.ID, teamA.ID, "kept", ""); err != nil {
		t.Fatalf("scan kept: %v", err)
	}
	if _, err := svc.RecordScan(sess.ID, teamA.ID, "doomed", ""); err != nil {
		t.Fatalf("scan doomed: %v", err)
	}
	if _, err := svc.RecordScan(sess.ID, teamB.ID, "kept", ""); err != nil {
		t.Fatalf("scan for second team: %v", err)
	}

	// Soft-delete one task and one team; their pending rows must leave the
	// moderation queue with them
	if err := db.Delete(doomed).Error; err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if err := db.Delete(teamB).Error; err != nil {
		t.Fatalf("delete team: %v", err)
	}

	rows, err := svc.ListPending(10, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 pending row after deletions, got %d", len(rows))
	}
	if rows[0].TeamName != "Kept" || rows[0].TaskCode != "kept" {
		t.Fatalf("wrong surviving row: %+v", rows[0])
	}
}

func TestSubmitProofRacingDecision(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Racy", true)

	// Whatever the interleaving of a submit and a decision, the caller must
	// see a classified conflict, never an unmapped storage error
	for i := 0; i < 10; i++ {
		code := "race-" + string(rune('a'+i))
		seedTask(t, db, code, 1, true)
		result, err := svc.RecordScan(sess.ID, team.ID, code, "")
		if err != nil {
			t.Fatalf("scan %s: %v", code, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		var submitErr, decideErr error
		go func() {
			defer wg.Done()
			_, submitErr = svc.SubmitProof(sess.ID, team.ID, code, "ref", "")
		}()
		go func() {
			defer wg.Done()
			_, decideErr = svc.Decide(result.Record.ID, models.OutcomeApprove, "mod")
		}()
		wg.Wait()

		if submitErr != nil && !errors.Is(submitErr, ErrNoPendingTask) {
			t.Fatalf("submit must succeed or report no_pending_task, got %v", submitErr)
		}
		if decideErr != nil && !errors.Is(decideErr, ErrAlreadyDecided) {
			t.Fatalf("decide must succeed or report already_decided, got %v", decideErr)
		}
	}
}

func TestTeamFinishesWhenAllTasksSettled(t *testing.T) {
	db := newTestDB(t)
	svc := NewProgressService(db)
	sess := seedSession(t, db, models.SessionRunning)
	team := seedTeam(t, db, "Finishers", true)
	seedTask(t, db, "t1", 1, false)
	seedTask(t, db, "t2", 2, true)

	if _, err := svc.RecordScan(sess.ID, team.ID, "t1", ""); err != nil {
		t.Fatalf("scan t1: %v", err)
	}

	var mid models.Team
	db.First(&mid, "id = ?", team.ID)
	if mid.FinishedAt != nil {
		t.Fatal("team must not finish with a task still open")
	}

	result, err := svc.RecordScan(sess.ID, team.ID, "t2", "")
	if err != nil {
		t.Fatalf("scan t2: %v", err)
	}
	if _, err := svc.Decide(result.Record.ID, models.OutcomeApprove, "mod"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	var done models.Team
	db.First(&done, "id = ?", team.ID)
	if done.FinishedAt == nil {
		t.Fatal("team must be stamped finished once every active task is settled")
	}
}
