package api

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"desaPortal/internal/api/middleware"
	"desaPortal/internal/auth"
	"desaPortal/internal/database"
)

// UserHandler 负责管理员账号的增删改查。
// 密码只进不出：哈希存库，任何响应都不包含密码字段。
type UserHandler struct {
	db          *gorm.DB
	authService *auth.AuthService
	redis       redis.UniversalClient
	logger      *slog.Logger
}

// NewUserHandler 构造 UserHandler。
func NewUserHandler(db *gorm.DB, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger) *UserHandler {
	return &UserHandler{db: db, authService: authService, redis: redisClient, logger: logger}
}

type createUserRequest struct {
	Name     string  `json:"name" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	Phone    string  `json:"phone" binding:"required"`
	Password string  `json:"password" binding:"required,min=8,max=72"`
	Position *string `json:"position"`
	Role     string  `json:"role" binding:"omitempty,oneof=admin umkm"`
}

type updateUserRequest struct {
	Name     string  `json:"name" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	Phone    string  `json:"phone" binding:"required"`
	Password string  `json:"password" binding:"omitempty,min=8,max=72"`
	Position *string `json:"position"`
	Role     string  `json:"role" binding:"omitempty,oneof=admin umkm"`
}

type userResponse struct {
	ID        uint       `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Role      string     `json:"role"`
	Position  *string    `json:"position"`
	Verified  *time.Time `json:"verified"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func newUserResponse(u database.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		Position:  u.Position,
		Verified:  u.VerifiedAt,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// normalizeEmail 统一邮箱大小写：写入与查询都用小写形式，
// 登录限流、锁定与账号查询才能对齐同一个键。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizePosition 把空串职位归一化为缺省值；空串不是合法的职位标签。
func normalizePosition(position *string) *string {
	if position == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*position)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// ListUsers 返回全部账号；umkm 账号的过滤交由管理面板完成。
func (h *UserHandler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()

	var users []database.User
	if err := h.db.WithContext(ctx).Find(&users).Error; err != nil {
		h.loggerFromContext(c).Error("list users failed", slog.Any("error", err))
		FailInternal(c, "Failed to fetch users")
		return
	}

	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, newUserResponse(u))
	}
	OK(c, items, "Fetched all users successfully")
}

// GetUser 返回单个账号。
func (h *UserHandler) GetUser(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		FailValidation(c, []string{"id must be a positive integer"})
		return
	}

	ctx := c.Request.Context()

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			FailNotFound(c, "User not found")
			return
		}
		h.loggerFromContext(c).Error("load user failed", slog.Any("error", err))
		FailInternal(c, "Failed to fetch user")
		return
	}

	OK(c, newUserResponse(user), "Fetched user successfully")
}

// CreateUser 新建管理员账号。
// 本管理流固定写入 admin 角色，请求里的 role 一律忽略。
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		FailValidation(c, validationMessages(err))
		return
	}

	ctx := c.Request.Context()
	email := normalizeEmail(req.Email)
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	var existing database.User
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		FailConflict(c, "Email is already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("create user lookup failed", slog.Any("error", err))
		FailInternal(c, "Failed to create user")
		return
	}

	hashed, err := h.authService.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		FailInternal(c, "Failed to create user")
		return
	}

	user := database.User{
		Name:         req.Name,
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: hashed,
		Role:         database.RoleAdmin,
		Position:     normalizePosition(req.Position),
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		logger.Error("create user failed", slog.Any("error", err))
		FailInternal(c, "Failed to create user")
		return
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "create", "user", user.ID, gin.H{
		"name": user.Name, "email": user.Email, "position": user.Position,
	})
	publishEntityEvent(ctx, h.redis, logger, "user", "create", user.ID)

	Created(c, newUserResponse(user), "User created successfully")
}

// UpdateUser 更新账号；密码字段为空时保留原密码。
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		FailValidation(c, []string{"id must be a positive integer"})
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		FailValidation(c, validationMessages(err))
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("target_user_id", uint64(id)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			FailNotFound(c, "User not found")
			return
		}
		logger.Error("load user failed", slog.Any("error", err))
		FailInternal(c, "Failed to update user")
		return
	}

	email := normalizeEmail(req.Email)
	var duplicate database.User
	if err := h.db.WithContext(ctx).
		Where("email = ? AND id <> ?", email, user.ID).
		First(&duplicate).Error; err == nil {
		FailConflict(c, "Email is already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("update user lookup failed", slog.Any("error", err))
		FailInternal(c, "Failed to update user")
		return
	}

	user.Name = req.Name
	user.Email = email
	user.Phone = req.Phone
	user.Role = database.RoleAdmin
	user.Position = normalizePosition(req.Position)

	if req.Password != "" {
		hashed, err := h.authService.HashPassword(req.Password)
		if err != nil {
			logger.Error("hash password failed", slog.Any("error", err))
			FailInternal(c, "Failed to update user")
			return
		}
		user.PasswordHash = hashed
	}

	if err := h.db.WithContext(ctx).Save(&user).Error; err != nil {
		logger.Error("update user failed", slog.Any("error", err))
		FailInternal(c, "Failed to update user")
		return
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "update", "user", user.ID, gin.H{
		"name": user.Name, "email": user.Email, "position": user.Position,
	})
	publishEntityEvent(ctx, h.redis, logger, "user", "update", user.ID)

	OK(c, newUserResponse(user), "User updated successfully")
}

// DeleteUser 删除账号。
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		FailValidation(c, []string{"id must be a positive integer"})
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("target_user_id", uint64(id)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			FailNotFound(c, "User not found")
			return
		}
		logger.Error("load user failed", slog.Any("error", err))
		FailInternal(c, "Failed to delete user")
		return
	}

	if err := h.db.WithContext(ctx).Delete(&user).Error; err != nil {
		logger.Error("delete user failed", slog.Any("error", err))
		FailInternal(c, "Failed to delete user")
		return
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "delete", "user", user.ID, gin.H{"email": user.Email})
	publishEntityEvent(ctx, h.redis, logger, "user", "delete", user.ID)

	OKMessage(c, "User deleted successfully")
}

func (h *UserHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
