package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"desaPortal/internal/auth"
	"desaPortal/internal/database"
)

type fakeStorage struct {
	uploaded map[string][]byte
	deleted  []string
	// ops 按发生顺序记录 upload:<key> / delete:<key>。
	ops []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	s.ops = append(s.ops, "upload:"+objectName)
	return &minio.UploadInfo{}, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	s.ops = append(s.ops, "delete:"+objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func (s *fakeStorage) PublicObjectURL(objectKey string) string {
	return "http://assets.test/village-assets/" + objectKey
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.User{},
		&database.Position{},
		&database.VillageProfile{},
		&database.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	svc, err := auth.NewAuthService(privPEM, pubPEM, 15*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

// newTestRedis 返回一个指向不可达地址的客户端；
// 事件发布失败只会记日志，不影响被测流程。
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
}

// fakeAuthRedis 是 authRedis 的内存实现：
// 计数、键值与 TTL 各一张表，足以覆盖限流、锁定与黑名单。
type fakeAuthRedis struct {
	counts map[string]int64
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeAuthRedis() *fakeAuthRedis {
	return &fakeAuthRedis{
		counts: map[string]int64{},
		values: map[string]string{},
		ttls:   map[string]time.Duration{},
	}
}

func (r *fakeAuthRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	r.counts[key]++
	return redis.NewIntResult(r.counts[key], nil)
}

func (r *fakeAuthRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	r.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (r *fakeAuthRedis) TTL(_ context.Context, key string) *redis.DurationCmd {
	if ttl, ok := r.ttls[key]; ok {
		return redis.NewDurationResult(ttl, nil)
	}
	return redis.NewDurationResult(-2*time.Second, nil)
}

func (r *fakeAuthRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if value, ok := r.values[key]; ok {
		return redis.NewStringResult(value, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (r *fakeAuthRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	r.values[key] = fmt.Sprint(value)
	r.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeAuthRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := r.values[key]; ok {
			removed++
		}
		delete(r.values, key)
		delete(r.counts, key)
		delete(r.ttls, key)
	}
	return redis.NewIntResult(removed, nil)
}

type profileFormValues struct {
	Visi     string
	Misi     string
	Resident string
	Children string
	Mature   string
	Old      string
	// Image 为空串时不写该字段；"null" 表示清除哨兵。
	Image    string
	FileName string
	FileType string
	FileBody []byte
}

func newProfileForm(t *testing.T, v profileFormValues) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"visi":     v.Visi,
		"misi":     v.Misi,
		"resident": v.Resident,
		"children": v.Children,
		"mature":   v.Mature,
		"old":      v.Old,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if v.FileName != "" {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="image"; filename="%s"`, v.FileName))
		header.Set("Content-Type", v.FileType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create image part: %v", err)
		}
		if _, err := part.Write(v.FileBody); err != nil {
			t.Fatalf("write image body: %v", err)
		}
	} else if v.Image != "" {
		if err := writer.WriteField("image", v.Image); err != nil {
			t.Fatalf("write image field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}
