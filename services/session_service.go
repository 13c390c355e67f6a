package services

import (
	"errors"
	"log"
	"time"

	"quest-hunt-system/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound   = errors.New("game session not found")
	ErrSessionTransition = errors.New("invalid session state transition")
)

// SessionService manages the per-event state machine:
// not_started → running → ended, with no reverse transitions.
type SessionService struct {
	DB *gorm.DB
}

func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{DB: db}
}

// Ensure returns the event session, creating it in not_started if none exists.
func (s *SessionService) Ensure(name string) (*models.GameSession, error) {
	sess, err := s.Current()
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	if name == "" {
		name = "main"
	}
	created := &models.GameSession{
		ID:    uuid.NewString(),
		Name:  name,
		State: models.SessionNotStarted,
	}
	if err := s.DB.Create(created).Error; err != nil {
		return nil, err
	}
	return created, nil
}

// Current returns the oldest (primary) session for the event.
func (s *SessionService) Current() (*models.GameSession, error) {
	var sess models.GameSession
	if err := s.DB.Order("created_at ASC").First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *SessionService) Get(id string) (*models.GameSession, error) {
	var sess models.GameSession
	if err := s.DB.First(&sess, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// Start flips not_started → running. The guard on the current state makes the
// transition single-shot even under concurrent admin calls. An optional
// endsAt arms the auto-end scheduler.
func (s *SessionService) Start(id string, endsAt *time.Time) (*models.GameSession, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"state":      models.SessionRunning,
		"started_at": now,
	}
	if endsAt != nil {
		updates["ends_at"] = endsAt.UTC()
	}

	res := s.DB.Model(&models.GameSession{}).
		Where("id = ? AND state = ?", id, models.SessionNotStarted).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(id); err != nil {
			return nil, err
		}
		return nil, ErrSessionTransition
	}
	return s.Get(id)
}

// End flips running → ended.
func (s *SessionService) End(id string) (*models.GameSession, error) {
	now := time.Now().UTC()
	res := s.DB.Model(&models.GameSession{}).
		Where("id = ? AND state = ?", id, models.SessionRunning).
		Updates(map[string]interface{}{
			"state":    models.SessionEnded,
			"ended_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(id); err != nil {
			return nil, err
		}
		return nil, ErrSessionTransition
	}
	return s.Get(id)
}

// StartAutoEndScheduler closes running sessions whose deadline has passed.
func (s *SessionService) StartAutoEndScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			now := time.Now().UTC()
			res := s.DB.Model(&models.GameSession{}).
				Where("state = ? AND ends_at IS NOT NULL AND ends_at <= ?", models.SessionRunning, now).
				Updates(map[string]interface{}{
					"state":    models.SessionEnded,
					"ended_at": now,
				})
			if res.Error != nil {
				log.Printf("[Scheduler] session auto-end error: %v", res.Error)
				return
			}
			if res.RowsAffected > 0 {
				log.Printf("⏰ Auto-ended %d session(s) past their deadline", res.RowsAffected)
			}
		}),
	)
}
