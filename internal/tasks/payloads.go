package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeActivityRecord = "activity:record"
)

// ActivityRecordPayload 描述一条待落库的资源访问日志。
// AccountID 仅用于完成后的通知路由。
type ActivityRecordPayload struct {
	AccountID     uint      `json:"account_id"`
	ProfileID     uint      `json:"profile_id"`
	ResourceName  string    `json:"resource_name"`
	AccessedAt    time.Time `json:"accessed_at"`
	CorrelationID string    `json:"correlation_id"`
}

// NewActivityRecordTask 构造一个新的访问日志落库任务。
func NewActivityRecordTask(accountID, profileID uint, resourceName string, accessedAt time.Time, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ActivityRecordPayload{
		AccountID:     accountID,
		ProfileID:     profileID,
		ResourceName:  resourceName,
		AccessedAt:    accessedAt,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeActivityRecord, payload), nil
}
