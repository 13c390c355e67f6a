package services

import (
	"errors"
	"strings"

	"quest-hunt-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

var ErrTaskCodeTaken = errors.New("task code already exists")

// TaskService is the admin-mutable task catalog.
type TaskService struct {
	DB *gorm.DB
}

func NewTaskService(db *gorm.DB) *TaskService {
	return &TaskService{DB: db}
}

// TaskCreateIn carries admin input for a new task.
type TaskCreateIn struct {
	Code          string   `json:"code"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Order         *int     `json:"order"`
	Points        *int     `json:"points"`
	IsActive      *bool    `json:"is_active"`
	RequiresProof *bool    `json:"requires_proof"`
	Lat           *float64 `json:"lat"`
	Lon           *float64 `json:"lon"`
}

// TaskUpdateIn carries a partial patch; nil fields stay untouched.
type TaskUpdateIn struct {
	Code          *string  `json:"code"`
	Title         *string  `json:"title"`
	Description   *string  `json:"description"`
	Order         *int     `json:"order"`
	Points        *int     `json:"points"`
	IsActive      *bool    `json:"is_active"`
	RequiresProof *bool    `json:"requires_proof"`
	Lat           *float64 `json:"lat"`
	Lon           *float64 `json:"lon"`
}

// List returns the whole catalog in display order.
func (s *TaskService) List() ([]models.Task, error) {
	var tasks []models.Task
	err := s.DB.Order("COALESCE(sort_order, 1000000000), created_at ASC").Find(&tasks).Error
	return tasks, err
}

func (s *TaskService) Get(id string) (*models.Task, error) {
	var task models.Task
	if err := s.DB.First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) GetByCode(code string) (*models.Task, error) {
	var task models.Task
	if err := s.DB.Where("code = ?", code).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Create adds a catalog entry. When no code is given one is derived from the
// title (that string is what gets printed into the QR).
func (s *TaskService) Create(in TaskCreateIn) (*models.Task, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		code = slug.Make(in.Title)
	}

	var count int64
	if err := s.DB.Model(&models.Task{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrTaskCodeTaken
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		Code:        code,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Order:       in.Order,
		Points:      1,
		IsActive:    true,
		Lat:         in.Lat,
		Lon:         in.Lon,
	}
	if in.Points != nil {
		task.Points = *in.Points
	}
	if in.IsActive != nil {
		task.IsActive = *in.IsActive
	}
	if in.RequiresProof != nil {
		task.RequiresProof = *in.RequiresProof
	}

	if err := s.DB.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskService) Update(id string, in TaskUpdateIn) (*models.Task, error) {
	task, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if in.Code != nil {
		code := strings.TrimSpace(*in.Code)
		var count int64
		if err := s.DB.Model(&models.Task{}).
			Where("code = ? AND id <> ?", code, task.ID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrTaskCodeTaken
		}
		task.Code = code
	}
	if in.Title != nil {
		task.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Order != nil {
		task.Order = in.Order
	}
	if in.Points != nil {
		task.Points = *in.Points
	}
	if in.IsActive != nil {
		task.IsActive = *in.IsActive
	}
	if in.RequiresProof != nil {
		task.RequiresProof = *in.RequiresProof
	}
	if in.Lat != nil {
		task.Lat = in.Lat
	}
	if in.Lon != nil {
		task.Lon = in.Lon
	}

	if err := s.DB.Save(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskService) Delete(id string) error {
	task, err := s.Get(id)
	if err != nil {
		return err
	}
	return s.DB.Delete(task).Error
}

// ResetProgress wipes the whole ledger (hard delete — this is the
// between-events reset, not an audit operation).
func (s *TaskService) ResetProgress() error {
	return s.DB.Unscoped().Where("1 = 1").Delete(&models.ProgressRecord{}).Error
}

// QRCodePNG renders the task's code as a PNG for the printed sheet.
func (s *TaskService) QRCodePNG(id string, size int) ([]byte, error) {
	task, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if size <= 0 || size > 2048 {
		size = 512
	}
	png, err := qrcode.Encode(task.Code, qrcode.Medium, size)
	if err != nil {
		return nil, err
	}
	return png, nil
}
