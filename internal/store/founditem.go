package store

import (
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/vhz-mon/marketwatch/internal/model"
)

// InsertFoundItem performs the idempotent first-sighting insert: on a
// (task_id, fingerprint) collision it does nothing and reports inserted
// = false, so the caller notifies at most once per fingerprint no matter
// how many times the same listing is observed.
func (s *Session) InsertFoundItem(item *model.FoundItem) (inserted bool, err error) {
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "fingerprint"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, fmt.Errorf("insert found item: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListFoundItems returns every found item for a task, newest first, used
// by the admin surface.
func (s *Session) ListFoundItems(taskID int64) ([]model.FoundItem, error) {
	var items []model.FoundItem
	err := s.db.Where("task_id = ?", taskID).Order("first_seen_at DESC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list found items: %w", err)
	}
	return items, nil
}

// CountFoundItems reports the total found-item count, used by status
// snapshots.
func (s *Session) CountFoundItems() (int64, error) {
	var n int64
	if err := s.db.Model(&model.FoundItem{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count found items: %w", err)
	}
	return n, nil
}
