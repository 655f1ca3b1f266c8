package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"desaPortal/internal/auth"
	"desaPortal/internal/config"
	"desaPortal/internal/database"
)

// 创建首个管理员账号的引导命令。
// 密码随机生成且只显示一次，首次登录强制改密。
func main() {
	var (
		name  = flag.String("name", "", "管理员姓名（必填）")
		email = flag.String("email", "", "管理员邮箱（必填）")
		phone = flag.String("phone", "", "管理员电话（可选）")
	)
	flag.Parse()

	n := strings.TrimSpace(*name)
	e := strings.ToLower(strings.TrimSpace(*email))
	if n == "" {
		log.Fatal("missing required flag: --name")
	}
	if e == "" {
		log.Fatal("missing required flag: --email")
	}

	cfg := config.MustLoad()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	if err := db.AutoMigrate(&database.User{}); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	var existing database.User
	switch err := db.Where("email = ?", e).First(&existing).Error; {
	case err == nil:
		log.Fatalf("user %q already exists", e)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Name:               n,
		Email:              e,
		Phone:              strings.TrimSpace(*phone),
		PasswordHash:       hashed,
		Role:               database.RoleAdmin,
		MustChangePassword: true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("已创建初始管理员账号（首次登录需强制改密）：\n")
	fmt.Printf("邮箱: %s\n", e)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：请立即登录并修改密码（该密码仅显示一次）。\n")
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
