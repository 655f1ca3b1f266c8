package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeAssetCleanup = "asset:cleanup"
	TypeAssetSweep   = "asset:sweep"
)

// AssetCleanupPayload 指定一个需要回收的资产对象。
// 档案更新在数据库写入失败后入队该任务，补偿已完成的上传。
type AssetCleanupPayload struct {
	ObjectKey     string `json:"object_key"`
	CorrelationID string `json:"correlation_id"`
}

// NewAssetCleanupTask 构造一个资产回收任务。
func NewAssetCleanupTask(objectKey, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(AssetCleanupPayload{
		ObjectKey:     objectKey,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAssetCleanup, payload), nil
}

// NewAssetSweepTask 构造一次孤儿资产巡检任务。
func NewAssetSweepTask() *asynq.Task {
	return asynq.NewTask(TypeAssetSweep, nil)
}
