package continuation

import (
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// WakeStatus 唤醒记录状态
type WakeStatus string

const (
	WakeScheduled WakeStatus = "scheduled" // 等待触发
	WakeRunning   WakeStatus = "running"   // 正在执行
	WakeCompleted WakeStatus = "completed" // 执行完成
	WakeFailed    WakeStatus = "failed"    // 执行失败
	WakeReplaced  WakeStatus = "replaced"  // 被同一会话的新唤醒替换
	WakeCancelled WakeStatus = "cancelled" // 已取消
)

// ParseWakeStatus 解析唤醒状态
func ParseWakeStatus(s string) (WakeStatus, bool) {
	switch status := WakeStatus(s); status {
	case WakeScheduled, WakeRunning, WakeCompleted, WakeFailed, WakeReplaced, WakeCancelled:
		return status, true
	}
	return "", false
}

// WakeRecord 唤醒日志
// 只用于查询与排查，进程重启后不会据此恢复任务
type WakeRecord struct {
	gorm.Model
	WakeID     string     `gorm:"uniqueIndex;size:36;not null" json:"wake_id"` // 唤醒 ID（UUID）
	ThreadID   string     `gorm:"not null;index" json:"thread_id"`             // 会话 ID
	JobID      string     `gorm:"not null" json:"job_id"`                      // 调度任务 ID
	RunAt      time.Time  `gorm:"not null;index" json:"run_at"`                // 计划执行时间
	Reason     string     `gorm:"type:text" json:"reason,omitempty"`           // 唤醒原因
	Context    string     `gorm:"type:text" json:"context,omitempty"`          // 唤醒上下文（JSON 格式）
	Status     WakeStatus `gorm:"default:scheduled;index" json:"status"`       // 状态
	Error      string     `gorm:"type:text" json:"error,omitempty"`            // 错误信息
	StartedAt  *time.Time `json:"started_at,omitempty"`                        // 开始执行时间
	FinishedAt *time.Time `json:"finished_at,omitempty"`                       // 结束时间
}

// TableName 指定表名
func (WakeRecord) TableName() string {
	return "wake_records"
}

// IsFinished 检查记录是否已结束
func (r *WakeRecord) IsFinished() bool {
	switch r.Status {
	case WakeCompleted, WakeFailed, WakeReplaced, WakeCancelled:
		return true
	}
	return false
}

// DecodeContext 解析唤醒上下文
func (r *WakeRecord) DecodeContext() (WakeContext, error) {
	if r.Context == "" {
		return WakeContext{}, nil
	}
	var ctx WakeContext
	if err := json.Unmarshal([]byte(r.Context), &ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// newWakeRecord 根据唤醒信息创建日志记录
func newWakeRecord(w Wake, wakeCtx WakeContext) (*WakeRecord, error) {
	record := &WakeRecord{
		WakeID:   w.ID,
		ThreadID: w.ThreadID,
		JobID:    w.JobID,
		RunAt:    w.RunAt,
		Reason:   w.Reason,
		Status:   WakeScheduled,
	}
	if len(wakeCtx) > 0 {
		data, err := json.Marshal(wakeCtx)
		if err != nil {
			return nil, err
		}
		record.Context = string(data)
	}
	return record, nil
}
