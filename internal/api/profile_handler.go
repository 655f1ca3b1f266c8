package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"desaPortal/internal/api/middleware"
	"desaPortal/internal/database"
	"desaPortal/internal/storage"
	"desaPortal/internal/tasks"
	"desaPortal/internal/village"
)

// ObjectStorage 是档案处理器对资产库的最小依赖面，便于测试替换。
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error
	PublicObjectURL(objectKey string) string
}

// ProfileHandler 负责村庄档案的读取、更新与删除。
// 更新接受 multipart 表单；结构图的替换/清除/保留通过显式三态解析。
type ProfileHandler struct {
	db          *gorm.DB
	storage     ObjectStorage
	asynqClient *asynq.Client
	redis       redis.UniversalClient
	logger      *slog.Logger
	maxBytes    int64
	clamdAddr   string
}

// NewProfileHandler 构造 ProfileHandler。
func NewProfileHandler(db *gorm.DB, storageClient ObjectStorage, asynqClient *asynq.Client, redisClient redis.UniversalClient, logger *slog.Logger, maxBytes int64, clamdAddr string) *ProfileHandler {
	return &ProfileHandler{
		db:          db,
		storage:     storageClient,
		asynqClient: asynqClient,
		redis:       redisClient,
		logger:      logger,
		maxBytes:    maxBytes,
		clamdAddr:   clamdAddr,
	}
}

type updateProfileRequest struct {
	Visi     string `form:"visi" binding:"required"`
	Misi     string `form:"misi" binding:"required"`
	Resident *int   `form:"resident" binding:"required,gte=0"`
	Children *int   `form:"children" binding:"required,gte=0"`
	Mature   *int   `form:"mature" binding:"required,gte=0"`
	Old      *int   `form:"old" binding:"required,gte=0"`
}

type profileResponse struct {
	ID        uint      `json:"id"`
	Visi      string    `json:"visi"`
	Misi      string    `json:"misi"`
	Resident  int       `json:"resident"`
	Children  int       `json:"children"`
	Mature    int       `json:"mature"`
	Old       int       `json:"old"`
	Image     *string   `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newProfileResponse(p database.VillageProfile) profileResponse {
	return profileResponse{
		ID:        p.ID,
		Visi:      p.Visi,
		Misi:      p.Misi,
		Resident:  p.Resident,
		Children:  p.Children,
		Mature:    p.Mature,
		Old:       p.Old,
		Image:     p.Image,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// ListProfiles 返回全部档案行。
// 表为空时通过规范访问器补一条空档案，前端永远有行可编辑。
func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	var profiles []database.VillageProfile
	if err := h.db.WithContext(ctx).Order("id asc").Find(&profiles).Error; err != nil {
		logger.Error("list village profiles failed", slog.Any("error", err))
		FailInternal(c, "Failed to fetch village profiles")
		return
	}

	if len(profiles) == 0 {
		profile, err := database.GetOrCreateProfile(ctx, h.db)
		if err != nil {
			logger.Error("create canonical profile failed", slog.Any("error", err))
			FailInternal(c, "Failed to fetch village profiles")
			return
		}
		profiles = append(profiles, profile)
	}

	items := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, newProfileResponse(p))
	}
	OK(c, items, "Fetched all village profiles successfully")
}

// UpdateProfile 更新村庄档案。
// resident 不信任载荷，始终由 children+mature+old 重新推导；
// 旧资产在档案行成功落库之后才删除，失败的保存不会留下指向
// 已删对象的 URL，档案始终至多关联一张图。
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		FailValidation(c, []string{"id must be a positive integer"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBind(&req); err != nil {
		FailValidation(c, validationMessages(err))
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("profile_id", uint64(id)))

	var profile database.VillageProfile
	if err := h.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			FailNotFound(c, "Village profile not found")
			return
		}
		logger.Error("load village profile failed", slog.Any("error", err))
		FailInternal(c, "Failed to update village profile")
		return
	}

	// 文件缺失不算错误：三态解析里对应 Keep 或 Remove。
	file, ferr := c.FormFile("image")
	if ferr != nil && !errors.Is(ferr, http.ErrMissingFile) {
		file = nil
	}
	action := village.ResolveImageAction(file != nil, c.PostForm("image"))

	var previousKey string
	if profile.Image != nil {
		previousKey = storage.ProfileImageKeyFromURL(*profile.Image)
	}

	var uploadedKey string
	switch action {
	case village.ImageReplace:
		if msgs := h.validateUpload(file); len(msgs) > 0 {
			FailValidation(c, msgs)
			return
		}
		if err := h.scanUpload(file); err != nil {
			logger.Error("scan upload failed", slog.Any("error", err))
			FailValidation(c, []string{"image failed the malware scan"})
			return
		}

		key := storage.BuildProfileImageKey(file.Filename, time.Now())
		reader, err := file.Open()
		if err != nil {
			logger.Error("open upload failed", slog.Any("error", err))
			FailInternal(c, "Failed to update village profile")
			return
		}
		contentType := file.Header.Get("Content-Type")
		_, err = h.storage.UploadFile(ctx, key, reader, file.Size, contentType)
		reader.Close()
		if err != nil {
			logger.Error("upload image failed", slog.String("object_key", key), slog.Any("error", err))
			FailInternal(c, "Failed to update village profile")
			return
		}
		uploadedKey = key
		url := h.storage.PublicObjectURL(key)
		profile.Image = &url

	case village.ImageRemove:
		profile.Image = nil

	case village.ImageKeep:
		// 不动现有图片，旧资产也保留。
		previousKey = ""
	}

	demographics := village.Demographics{Children: *req.Children, Mature: *req.Mature, Old: *req.Old}
	profile.Visi = req.Visi
	profile.Misi = req.Misi
	profile.Children = demographics.Children
	profile.Mature = demographics.Mature
	profile.Old = demographics.Old
	profile.Resident = demographics.Residents()

	if err := h.db.WithContext(ctx).Save(&profile).Error; err != nil {
		logger.Error("save village profile failed", slog.Any("error", err))
		// 数据库写入失败时回收刚上传的对象，避免资产库残留孤儿。
		// 旧资产此时尚未动过，行里的 URL 仍然有效。
		if uploadedKey != "" {
			h.enqueueAssetCleanup(ctx, logger, uploadedKey, middleware.GetCorrelationID(c))
		}
		FailInternal(c, "Failed to update village profile")
		return
	}

	// 行已落库，这时替换/清除掉的旧资产才真正失去引用。
	// 直接删除失败就交给回收任务，巡检兜底。
	if previousKey != "" && previousKey != uploadedKey {
		if err := h.storage.DeleteObject(ctx, previousKey); err != nil {
			logger.Error("delete previous image failed", slog.String("object_key", previousKey), slog.Any("error", err))
			h.enqueueAssetCleanup(ctx, logger, previousKey, middleware.GetCorrelationID(c))
		}
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "update", "village_profile", profile.ID, gin.H{
		"visi": profile.Visi, "misi": profile.Misi,
		"children": profile.Children, "mature": profile.Mature, "old": profile.Old,
		"resident": profile.Resident, "image": profile.Image,
	})
	publishEntityEvent(ctx, h.redis, logger, "village_profile", "update", profile.ID)

	OK(c, newProfileResponse(profile), "Village profile updated successfully")
}

// DeleteProfile 删除档案行，先清掉关联的结构图资产。
func (h *ProfileHandler) DeleteProfile(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		FailValidation(c, []string{"id must be a positive integer"})
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("profile_id", uint64(id)))

	var profile database.VillageProfile
	if err := h.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			FailNotFound(c, "Village profile not found")
			return
		}
		logger.Error("load village profile failed", slog.Any("error", err))
		FailInternal(c, "Failed to delete village profile")
		return
	}

	if profile.Image != nil {
		if key := storage.ProfileImageKeyFromURL(*profile.Image); key != "" {
			if err := h.storage.DeleteObject(ctx, key); err != nil {
				logger.Error("delete image failed", slog.String("object_key", key), slog.Any("error", err))
				FailInternal(c, "Failed to delete village profile")
				return
			}
		}
	}

	if err := h.db.WithContext(ctx).Delete(&profile).Error; err != nil {
		logger.Error("delete village profile failed", slog.Any("error", err))
		FailInternal(c, "Failed to delete village profile")
		return
	}

	actorID, _ := userIDFromContext(c)
	recordAudit(ctx, h.db, logger, actorID, "delete", "village_profile", profile.ID, nil)
	publishEntityEvent(ctx, h.redis, logger, "village_profile", "delete", profile.ID)

	OKMessage(c, "Village profile deleted successfully")
}

func (h *ProfileHandler) validateUpload(file *multipart.FileHeader) []string {
	msgs := make([]string, 0, 2)
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		msgs = append(msgs, "image exceeds the maximum allowed size")
	}
	if !village.ImageTypeAllowed(file.Header.Get("Content-Type")) {
		msgs = append(msgs, "image must be one of: image/jpg, image/jpeg, image/png")
	}
	return msgs
}

// scanUpload 在上传前用 ClamAV 扫描文件流；未配置 clamd 地址时跳过。
func (h *ProfileHandler) scanUpload(file *multipart.FileHeader) error {
	if h.clamdAddr == "" {
		return nil
	}

	reader, err := file.Open()
	if err != nil {
		return err
	}
	defer reader.Close()

	clamdClient := clamd.NewClamd(h.clamdAddr)
	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(reader, abortChan)
	if err != nil {
		return err
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return errors.New("malicious file detected")
		}
	}
	return nil
}

func (h *ProfileHandler) enqueueAssetCleanup(ctx context.Context, logger *slog.Logger, objectKey, correlationID string) {
	if h.asynqClient == nil {
		return
	}
	task, err := tasks.NewAssetCleanupTask(objectKey, correlationID)
	if err != nil {
		logger.Error("build asset cleanup task failed", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.EnqueueContext(ctx, task); err != nil {
		logger.Error("enqueue asset cleanup failed", slog.String("object_key", objectKey), slog.Any("error", err))
	}
}

func (h *ProfileHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
