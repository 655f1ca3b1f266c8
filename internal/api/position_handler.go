package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"desaPortal/internal/api/middleware"
	"desaPortal/internal/database"
)

// PositionHandler 负责村级职位/机构标签的增删改查。
type PositionHandler struct {
	db     *gorm.DB
	redis  redis.UniversalClient
	logger *slog.Logger
}

// NewPositionHandler 构造 PositionHandler。
func NewPositionHandler(db *gorm.DB, redisClient redis.UniversalClient, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{db: db, redis: redisClient, logger: logger}
}

type positionRequest struct {
	Name string `json:"name" binding:"required"`
}

type positionResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newPositionResponse(p database.Position) positionResponse {
	return positionResponse{
		ID:        p.ID,
		Name:      p.Name,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// ListPositions 返回全部职位，排序交由客户端按主键处理。
func (h *PositionHandler) ListPositions(c *gin.Context) {
	ctx := c.Request.Context()

	var positions []database.Position
	if err := h.db.WithContext(ctx).Find(&positions).Error; err != nil {
		h.loggerFromContext(c).Error("list positions failed", slog.Any("error", err))
		FailInternal(c, "Failed to fetch Position")
		return
	}

	items := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		items = append(items, newPositionResponse(p))
	}
	OK(c, items, "Fetched all Positions successfully")
}

// CreatePosition 新建职位。
func (h *PositionHandler) CreatePosition(c *gin.Context) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		FailValidation(c, validationMessages(err))
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.String("position_name", req.Name))

	position := database.Position{Name: req.Name}
	if err := h.db.WithContext(ctx).Create(&position).Error; err != nil {
		logger.Error("create position failed", slog.Any("error", err))
		FailInternal(c, "Failed to create Position")
		return
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "create", "position", position.ID, req)
	publishEntityEvent(ctx, h.redis, logger, "position", "create", position.ID)

	Created(c, newPositionResponse(position), "Position created successfully")
}

// UpdatePosition 更新职位名称。
func (h *PositionHandler) UpdatePosition(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		FailValidation(c, []string{"id must be a positive integer"})
		return
	}

	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		FailValidation(c, validationMessages(err))
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("position_id", uint64(id)))

	var position database.Position
	if err := h.db.WithContext(ctx).First(&position, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			FailNotFound(c, "Village position not found")
			return
		}
		logger.Error("load position failed", slog.Any("error", err))
		FailInternal(c, "Failed to update Village Position")
		return
	}

	position.Name = req.Name
	if err := h.db.WithContext(ctx).Save(&position).Error; err != nil {
		logger.Error("update position failed", slog.Any("error", err))
		FailInternal(c, "Failed to update Village Position")
		return
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "update", "position", position.ID, req)
	publishEntityEvent(ctx, h.redis, logger, "position", "update", position.ID)

	OK(c, newPositionResponse(position), "Village Position updated successfully")
}

// DeletePosition 删除职位。
// 仍被账号引用的职位拒绝删除，避免账号表单出现悬空标签。
func (h *PositionHandler) DeletePosition(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		FailValidation(c, []string{"id must be a positive integer"})
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("position_id", uint64(id)))

	var position database.Position
	if err := h.db.WithContext(ctx).First(&position, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			FailNotFound(c, "Village Position not found")
			return
		}
		logger.Error("load position failed", slog.Any("error", err))
		FailInternal(c, "Failed to delete Village Position")
		return
	}

	var referencing int64
	if err := h.db.WithContext(ctx).
		Model(&database.User{}).
		Where("position = ?", position.Name).
		Count(&referencing).Error; err != nil {
		logger.Error("count referencing accounts failed", slog.Any("error", err))
		FailInternal(c, "Failed to delete Village Position")
		return
	}
	if referencing > 0 {
		FailConflict(c, fmt.Sprintf("Position is still referenced by %d account(s)", referencing))
		return
	}

	if err := h.db.WithContext(ctx).Delete(&position).Error; err != nil {
		logger.Error("delete position failed", slog.Any("error", err))
		FailInternal(c, "Failed to delete Village Position")
		return
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "delete", "position", position.ID, gin.H{"name": position.Name})
	publishEntityEvent(ctx, h.redis, logger, "position", "delete", position.ID)

	OKMessage(c, "Village Position deleted successfully")
}

func (h *PositionHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
