package api

import (
	"bytes"
	"net/http"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"desaPortal/internal/database"
)

func newUserTestHandler(t *testing.T) *UserHandler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewUserHandler(newTestDB(t), newTestAuthService(t), newTestRedis(t), nil)
}

func validAccountPayload() gin.H {
	return gin.H{
		"name":     "Siti Aminah",
		"email":    "siti@desa.id",
		"phone":    "081234567890",
		"password": "rahasia-123",
		"position": "Sekretaris",
	}
}

func TestCreateUserForcesAdminRole(t *testing.T) {
	h := newUserTestHandler(t)

	payload := validAccountPayload()
	payload["role"] = "umkm"
	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", payload, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	data := decodeEnvelope(t, w)["data"].(map[string]any)
	if data["role"] != database.RoleAdmin {
		t.Fatalf("role must be forced to admin, got %v", data["role"])
	}

	var stored database.User
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load stored user: %v", err)
	}
	if stored.Role != database.RoleAdmin {
		t.Fatalf("persisted role must be admin, got %s", stored.Role)
	}
}

func TestCreateUserNeverReturnsPassword(t *testing.T) {
	h := newUserTestHandler(t)

	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", validAccountPayload(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("response must not leak password fields: %s", w.Body.String())
	}

	var stored database.User
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load stored user: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "rahasia-123" {
		t.Fatalf("password must be stored hashed, got %q", stored.PasswordHash)
	}
}

func TestCreateUserValidationMessagesAreAnArray(t *testing.T) {
	h := newUserTestHandler(t)

	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users",
		gin.H{"email": "not-an-email", "password": "short"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
	envelope := decodeEnvelope(t, w)
	msgs, ok := envelope["message"].([]any)
	if !ok {
		t.Fatalf("expected message array, got %T", envelope["message"])
	}
	if len(msgs) < 3 {
		t.Fatalf("expected one message per violated rule, got %v", msgs)
	}
}

func TestCreateUserNormalizesEmptyPosition(t *testing.T) {
	h := newUserTestHandler(t)

	payload := validAccountPayload()
	payload["position"] = ""
	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", payload, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.User
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load stored user: %v", err)
	}
	if stored.Position != nil {
		t.Fatalf("empty position must be stored as NULL, got %q", *stored.Position)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	h := newUserTestHandler(t)

	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", validAccountPayload(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201 got %d", w.Code)
	}
	w = doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", validAccountPayload(), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second create: expected 409 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateUserKeepsPasswordWhenOmitted(t *testing.T) {
	h := newUserTestHandler(t)

	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", validAccountPayload(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", w.Code)
	}
	var stored database.User
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load stored user: %v", err)
	}
	originalHash := stored.PasswordHash
	id := strconv.Itoa(int(stored.ID))

	w = doJSON(t, h.UpdateUser, http.MethodPut, "/v1/users/"+id, gin.H{
		"name":  "Siti A.",
		"email": "siti@desa.id",
		"phone": "081234567890",
	}, gin.Params{{Key: "id", Value: id}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	if err := h.db.First(&stored, stored.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if stored.PasswordHash != originalHash {
		t.Fatal("password hash must be unchanged when password omitted")
	}
	if stored.Name != "Siti A." {
		t.Fatalf("name must be updated, got %s", stored.Name)
	}
}

func TestUpdateMissingUserReturnsNotFound(t *testing.T) {
	h := newUserTestHandler(t)

	w := doJSON(t, h.UpdateUser, http.MethodPut, "/v1/users/42", gin.H{
		"name":  "Nobody",
		"email": "nobody@desa.id",
		"phone": "0800",
	}, gin.Params{{Key: "id", Value: "42"}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", w.Code)
	}
	envelope := decodeEnvelope(t, w)
	if envelope["status"] != false {
		t.Fatalf("failure envelope must carry status false, got %v", envelope["status"])
	}
}

func TestDeleteUser(t *testing.T) {
	h := newUserTestHandler(t)

	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", validAccountPayload(), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", w.Code)
	}
	var stored database.User
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load stored user: %v", err)
	}
	id := strconv.Itoa(int(stored.ID))

	w = doJSON(t, h.DeleteUser, http.MethodDelete, "/v1/users/"+id, nil,
		gin.Params{{Key: "id", Value: id}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var count int64
	h.db.Model(&database.User{}).Count(&count)
	if count != 0 {
		t.Fatalf("user must be removed, %d rows left", count)
	}
}

func TestCreateUserLowercasesEmail(t *testing.T) {
	h := newUserTestHandler(t)

	payload := validAccountPayload()
	payload["email"] = "  Siti@Desa.ID "
	w := doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", payload, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.User
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load stored user: %v", err)
	}
	if stored.Email != "siti@desa.id" {
		t.Fatalf("email must be stored lowercased, got %q", stored.Email)
	}

	// 大小写不同的同一地址视为重复。
	dup := validAccountPayload()
	dup["email"] = "SITI@desa.id"
	w = doJSON(t, h.CreateUser, http.MethodPost, "/v1/users", dup, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for case-variant duplicate, got %d", w.Code)
	}
}
