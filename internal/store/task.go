package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vhz-mon/marketwatch/internal/model"
)

// GetTask reads a single task by id. Returns ErrNotFound if absent.
func (s *Session) GetTask(id int64) (*model.MonitoringTask, error) {
	var task model.MonitoringTask
	if err := s.db.Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListActiveTasks returns every task with is_active = true, used by
// Scheduler.Start to discover loops to spawn.
func (s *Session) ListActiveTasks() ([]model.MonitoringTask, error) {
	var tasks []model.MonitoringTask
	if err := s.db.Where("is_active = ?", true).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns every task, used by the admin surface.
func (s *Session) ListTasks() ([]model.MonitoringTask, error) {
	var tasks []model.MonitoringTask
	if err := s.db.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// CreateTask inserts a new task. An unset NextCheck defaults to the
// creation time, so the scheduler treats the task as due immediately.
func (s *Session) CreateTask(task *model.MonitoringTask) error {
	task.CheckInterval = model.ClampCheckInterval(task.CheckInterval)
	if task.NextCheck == nil {
		now := time.Now()
		task.NextCheck = &now
	}
	if err := s.db.Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// AdvanceNextCheck is the scheduler's per-tick unconditional advance: it
// writes NextCheck and LastCheck in a single UPDATE, independent of any
// downstream worker outcome.
func (s *Session) AdvanceNextCheck(taskID int64, now time.Time, checkInterval int) error {
	next := now.Add(time.Duration(checkInterval) * time.Second)
	res := s.db.Model(&model.MonitoringTask{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"next_check": next,
			"last_check": now,
		})
	if res.Error != nil {
		return fmt.Errorf("advance next_check: %w", res.Error)
	}
	return nil
}

// IncrementTotalChecks bumps the counter on result receipt, as a separate
// UPDATE so concurrent ticks/results never lose an update against each
// other.
func (s *Session) IncrementTotalChecks(taskID int64) error {
	res := s.db.Model(&model.MonitoringTask{}).
		Where("id = ?", taskID).
		UpdateColumn("total_checks", gorm.Expr("total_checks + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment total_checks: %w", res.Error)
	}
	return nil
}

// SetActive flips is_active, used by the admin surface and task lifecycle
// hooks. It does not touch next_check/last_check, which belong to the
// scheduler.
func (s *Session) SetActive(taskID int64, active bool) error {
	if err := s.db.Model(&model.MonitoringTask{}).
		Where("id = ?", taskID).
		Update("is_active", active).Error; err != nil {
		return fmt.Errorf("set task active: %w", err)
	}
	return nil
}

// DeleteTask removes a task permanently, on explicit user action only.
func (s *Session) DeleteTask(taskID int64) error {
	if err := s.db.Where("id = ?", taskID).Delete(&model.MonitoringTask{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
