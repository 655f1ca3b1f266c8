package api

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// entityEventsChannel 是实体变更事件的 Redis 频道。
// WebSocket 端订阅该频道，把事件转发给打开的管理面板。
const entityEventsChannel = "desaportal:events"

type entityEvent struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     uint   `json:"id"`
}

// publishEntityEvent 在变更成功后广播事件，失败只记日志。
func publishEntityEvent(ctx context.Context, client redis.UniversalClient, logger *slog.Logger, entity, action string, id uint) {
	if client == nil {
		return
	}
	payload, err := json.Marshal(entityEvent{Entity: entity, Action: action, ID: id})
	if err != nil {
		logger.Error("marshal entity event failed", slog.Any("error", err))
		return
	}
	if err := client.Publish(ctx, entityEventsChannel, payload).Err(); err != nil {
		logger.Error("publish entity event failed",
			slog.String("entity", entity),
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}
