package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetOrCreateProfile 返回规范的村庄档案行（id 最小者）。
// 表为空时创建一条空档案，消除"隐式单例"的歧义：调用方永远拿到一行可编辑的记录。
func GetOrCreateProfile(ctx context.Context, db *gorm.DB) (VillageProfile, error) {
	var profile VillageProfile
	err := db.WithContext(ctx).Order("id asc").First(&profile).Error
	switch {
	case err == nil:
		return profile, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = VillageProfile{}
		if err := db.WithContext(ctx).Create(&profile).Error; err != nil {
			return VillageProfile{}, fmt.Errorf("create canonical profile: %w", err)
		}
		return profile, nil
	default:
		return VillageProfile{}, fmt.Errorf("load canonical profile: %w", err)
	}
}
