package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 账号角色。本服务的管理端只创建 admin；umkm 账号由独立的商户端维护。
const (
	RoleAdmin = "admin"
	RoleUMKM  = "umkm"
)

// User 表示门户的管理员账号。
// Position 存的是职位名称标签而非外键，与账号表单的引用方式保持一致。
type User struct {
	gorm.Model
	Name               string     `gorm:"size:128"`
	Email              string     `gorm:"uniqueIndex;size:255"`
	Phone              string     `gorm:"size:32"`
	PasswordHash       string     `gorm:"size:255"`
	Role               string     `gorm:"size:16;default:admin"`
	Position           *string    `gorm:"size:128"`
	VerifiedAt         *time.Time
	MustChangePassword bool `gorm:"default:false"`
}

// Position 表示村级组织的职位/机构标签。
type Position struct {
	gorm.Model
	Name string `gorm:"size:128"`
}

// VillageProfile 表示村庄档案。
// Resident 为派生字段，任何写路径都必须等于 Children+Mature+Old。
// Image 保存资产库中结构图的公开 URL，可为空。
type VillageProfile struct {
	gorm.Model
	Visi     string  `gorm:"type:text"`
	Misi     string  `gorm:"type:text"`
	Resident int     `gorm:"default:0"`
	Children int     `gorm:"default:0"`
	Mature   int     `gorm:"default:0"`
	Old      int     `gorm:"default:0"`
	Image    *string `gorm:"size:512"`
}

// AuditLog 记录管理端的每次成功变更，Detail 为 JSONB 负载快照。
type AuditLog struct {
	gorm.Model
	ActorID  uint           `gorm:"index"`
	Action   string         `gorm:"size:32"`
	Entity   string         `gorm:"size:32;index"`
	EntityID uint           `gorm:"index"`
	Detail   datatypes.JSON `gorm:"type:jsonb"`
}
