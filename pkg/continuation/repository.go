package continuation

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// WakeRepository WakeRecord 数据访问层
type WakeRepository struct {
	db *gorm.DB
}

// NewWakeRepository 创建 Repository
func NewWakeRepository(db *gorm.DB) *WakeRepository {
	return &WakeRepository{db: db}
}

// AutoMigrate 创建或更新表结构
func (r *WakeRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&WakeRecord{})
}

// Create 创建唤醒记录
func (r *WakeRepository) Create(record *WakeRecord) error {
	return r.db.Create(record).Error
}

// GetByWakeID 根据唤醒 ID 获取记录
func (r *WakeRepository) GetByWakeID(wakeID string) (*WakeRecord, error) {
	var record WakeRecord
	err := r.db.Where("wake_id = ?", wakeID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWakeNotFound
		}
		return nil, err
	}
	return &record, nil
}

// List 列出唤醒记录，按计划执行时间升序
func (r *WakeRepository) List(status *WakeStatus, limit, offset int) ([]WakeRecord, error) {
	var records []WakeRecord
	query := r.db.Model(&WakeRecord{})

	if status != nil {
		query = query.Where("status = ?", *status)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}

	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Order("run_at ASC").Find(&records).Error
	return records, err
}

// ListByThread 列出会话的唤醒记录，最新的在前
func (r *WakeRepository) ListByThread(threadID string, limit int) ([]WakeRecord, error) {
	var records []WakeRecord
	query := r.db.Model(&WakeRecord{}).Where("thread_id = ?", threadID)
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("id DESC").Find(&records).Error
	return records, err
}

// Count 统计记录数量
func (r *WakeRepository) Count(status *WakeStatus) (int64, error) {
	var count int64
	query := r.db.Model(&WakeRecord{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	err := query.Count(&count).Error
	return count, err
}

// UpdateStatus 根据唤醒 ID 更新状态
func (r *WakeRepository) UpdateStatus(wakeID string, status WakeStatus, errMsg string) error {
	updates := map[string]interface{}{
		"status": status,
	}

	if errMsg != "" {
		updates["error"] = errMsg
	}

	now := time.Now()
	switch status {
	case WakeRunning:
		updates["started_at"] = &now
	case WakeCompleted, WakeFailed, WakeReplaced, WakeCancelled:
		updates["finished_at"] = &now
	}

	res := r.db.Model(&WakeRecord{}).Where("wake_id = ?", wakeID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWakeNotFound
	}
	return nil
}

// PruneFinished 物理删除 before 之前结束的记录，返回删除数量
func (r *WakeRepository) PruneFinished(before time.Time) (int64, error) {
	res := r.db.Unscoped().
		Where("status IN ? AND finished_at < ?",
			[]WakeStatus{WakeCompleted, WakeFailed, WakeReplaced, WakeCancelled}, before).
		Delete(&WakeRecord{})
	return res.RowsAffected, res.Error
}
