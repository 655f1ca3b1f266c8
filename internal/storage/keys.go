package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// ProfileImagePrefix 是村庄档案结构图在 Bucket 中的目录前缀。
const ProfileImagePrefix = "village-profile/"

// BuildProfileImageKey 按 "时间戳_文件名MD5" 的约定派生对象键。
// 扩展名取自原始文件名并统一转小写，保证替换上传不会撞键。
func BuildProfileImageKey(filename string, now time.Time) string {
	base := path.Base(filename)
	ext := strings.ToLower(path.Ext(base))
	stem := strings.TrimSuffix(base, path.Ext(base))

	sum := md5.Sum([]byte(stem))
	return fmt.Sprintf("%s%d_%s%s", ProfileImagePrefix, now.UnixMilli(), hex.EncodeToString(sum[:]), ext)
}

// ProfileImageKeyFromURL 从存储的公开 URL 还原对象键。
// URL 不属于档案图片目录时返回空串，调用方据此跳过删除。
func ProfileImageKeyFromURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	idx := strings.Index(parsed.Path, ProfileImagePrefix)
	if idx < 0 {
		return ""
	}
	key := parsed.Path[idx:]
	if strings.Contains(key, "..") || strings.HasSuffix(key, "/") {
		return ""
	}
	return key
}
