package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"desaPortal/internal/database"
	"desaPortal/internal/storage"
	"desaPortal/internal/tasks"
)

// AssetStorage 是资产维护任务对对象存储的最小依赖面。
type AssetStorage interface {
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectMeta, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// sweepGracePeriod 内新上传的对象不参与巡检删除，
// 避免误删"已上传、档案行尚未提交"的进行中更新。
const sweepGracePeriod = time.Hour

// AssetMaintenanceHandler 处理资产回收与孤儿巡检任务。
type AssetMaintenanceHandler struct {
	db      *gorm.DB
	storage AssetStorage
	logger  *slog.Logger
}

// NewAssetMaintenanceHandler 构造资产维护处理器。
func NewAssetMaintenanceHandler(db *gorm.DB, storageClient AssetStorage, logger *slog.Logger) *AssetMaintenanceHandler {
	return &AssetMaintenanceHandler{db: db, storage: storageClient, logger: logger}
}

// HandleCleanup 删除指定对象（补偿失败的档案更新）。
func (h *AssetMaintenanceHandler) HandleCleanup(ctx context.Context, task *asynq.Task) error {
	var payload tasks.AssetCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode asset cleanup payload: %w", err)
	}

	logger := h.logger.With(
		slog.String("object_key", payload.ObjectKey),
		slog.String("correlation_id", payload.CorrelationID),
	)

	if err := h.storage.DeleteObject(ctx, payload.ObjectKey); err != nil {
		logger.Error("asset cleanup failed", slog.Any("error", err))
		return fmt.Errorf("delete object %q: %w", payload.ObjectKey, err)
	}

	logger.Info("asset cleanup done")
	return nil
}

// HandleSweep 巡检档案图片目录，删除没有任何档案行引用的对象。
func (h *AssetMaintenanceHandler) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	referenced, err := h.referencedKeys(ctx)
	if err != nil {
		return err
	}

	objects, err := h.storage.ListObjects(ctx, storage.ProfileImagePrefix, 1000)
	if err != nil {
		return fmt.Errorf("list profile images: %w", err)
	}

	cutoff := time.Now().Add(-sweepGracePeriod)
	removed := 0
	for _, obj := range objects {
		if referenced[obj.Key] {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := h.storage.DeleteObject(ctx, obj.Key); err != nil {
			h.logger.Error("sweep delete failed", slog.String("object_key", obj.Key), slog.Any("error", err))
			continue
		}
		removed++
	}

	h.logger.Info("asset sweep done",
		slog.Int("scanned", len(objects)),
		slog.Int("removed", removed),
	)
	return nil
}

func (h *AssetMaintenanceHandler) referencedKeys(ctx context.Context) (map[string]bool, error) {
	var urls []string
	if err := h.db.WithContext(ctx).
		Model(&database.VillageProfile{}).
		Where("image IS NOT NULL").
		Pluck("image", &urls).Error; err != nil {
		return nil, fmt.Errorf("load referenced image urls: %w", err)
	}

	keys := make(map[string]bool, len(urls))
	for _, u := range urls {
		if key := storage.ProfileImageKeyFromURL(u); key != "" {
			keys[key] = true
		}
	}
	return keys, nil
}
