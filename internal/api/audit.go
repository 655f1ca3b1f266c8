package api

import (
	"context"
	"encoding/json"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"desaPortal/internal/database"
)

// recordAudit 把一次成功的管理操作写入审计日志。
// 审计失败只记日志，不影响主流程的响应。
func recordAudit(ctx context.Context, db *gorm.DB, logger *slog.Logger, actorID uint, action, entity string, entityID uint, detail any) {
	var payload datatypes.JSON
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			logger.Error("marshal audit detail failed", slog.Any("error", err))
			return
		}
		payload = datatypes.JSON(raw)
	}

	entry := database.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Detail:   payload,
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		logger.Error("write audit log failed",
			slog.String("action", action),
			slog.String("entity", entity),
			slog.Any("error", err),
		)
	}
}
