package service

import (
	"context"
	"fmt"

	"mentor-crm/internal/model"

	"gorm.io/gorm"
)

type TaskService struct{ db *gorm.DB }

func NewTaskService(db *gorm.DB) *TaskService { return &TaskService{db: db} }

func (s *TaskService) Create(ctx context.Context, req model.TaskRequest) (*model.Task, error) {
	t := model.Task{
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
		MemberID:    req.MemberID,
	}
	if req.Priority != "" {
		t.Priority = req.Priority
	}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *TaskService) List(ctx context.Context, status string) ([]model.Task, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tasks []model.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// SetStatus moves a task through open -> in_progress -> done. Any
// forward or backward move between known states is allowed; unknown
// states are rejected.
func (s *TaskService) SetStatus(ctx context.Context, id int, status string) (*model.Task, error) {
	switch status {
	case model.TaskOpen, model.TaskInProgress, model.TaskDone:
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}
	var t model.Task
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	if err := s.db.WithContext(ctx).Model(&t).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return &t, nil
}
