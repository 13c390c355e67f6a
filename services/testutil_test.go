package services

import (
	"path/filepath"
	"testing"
	"time"

	"quest-hunt-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a throwaway file-backed SQLite database. WAL + a generous
// busy timeout let the concurrency tests hammer the same row from several
// goroutines the way Postgres would be hammered in production.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "quest.db") +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Team{},
		&models.User{},
		&models.TeamMember{},
		&models.Task{},
		&models.ProgressRecord{},
		&models.GameSession{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seedSession(t *testing.T, db *gorm.DB, state string) *models.GameSession {
	t.Helper()
	sess := &models.GameSession{
		ID:    uuid.NewString(),
		Name:  "test event",
		State: state,
	}
	if state == models.SessionRunning {
		now := time.Now().UTC()
		sess.StartedAt = &now
	}
	if err := db.Create(sess).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func seedTeam(t *testing.T, db *gorm.DB, name string, started bool) *models.Team {
	t.Helper()
	team := &models.Team{
		ID:        uuid.NewString(),
		Name:      name,
		CanRename: true,
	}
	if started {
		now := time.Now().UTC()
		team.StartedAt = &now
	}
	if err := db.Create(team).Error; err != nil {
		t.Fatalf("seed team: %v", err)
	}
	return team
}

func seedTask(t *testing.T, db *gorm.DB, code string, points int, requiresProof bool) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:            uuid.NewString(),
		Code:          code,
		Title:         "Task " + code,
		Points:        points,
		IsActive:      true,
		RequiresProof: requiresProof,
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func seedMember(t *testing.T, db *gorm.DB, teamID, tgID, role string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.NewString(),
		TgID:     tgID,
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	member := &models.TeamMember{
		ID:     uuid.NewString(),
		TeamID: teamID,
		UserID: user.ID,
		Role:   role,
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return user
}
