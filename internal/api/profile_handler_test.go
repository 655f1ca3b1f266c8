package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"desaPortal/internal/database"
)

func newProfileTestHandler(t *testing.T) (*ProfileHandler, *fakeStorage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := newFakeStorage()
	h := NewProfileHandler(newTestDB(t), store, nil, newTestRedis(t), nil, 5*1024*1024, "")
	return h, store
}

func doProfilePatch(t *testing.T, h *ProfileHandler, id string, v profileFormValues) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := newProfileForm(t, v)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPatch, "/v1/village-profiles/"+id, body)
	c.Request.Header.Set("Content-Type", contentType)
	c.Params = gin.Params{{Key: "id", Value: id}}
	c.Set("userID", uint(1))

	h.UpdateProfile(c)
	return w
}

func seedProfile(t *testing.T, h *ProfileHandler, image *string) database.VillageProfile {
	t.Helper()
	profile := database.VillageProfile{
		Visi:     "Desa mandiri",
		Misi:     "Meningkatkan kesejahteraan",
		Children: 100,
		Mature:   200,
		Old:      50,
		Resident: 350,
		Image:    image,
	}
	if err := h.db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return profile
}

func baseForm() profileFormValues {
	return profileFormValues{
		Visi:     "Desa maju",
		Misi:     "Pelayanan prima",
		Resident: "999", // 载荷里的 resident 不可信，服务端必须重新推导
		Children: "120",
		Mature:   "230",
		Old:      "40",
	}
}

func TestUpdateProfileRecomputesResident(t *testing.T) {
	h, _ := newProfileTestHandler(t)
	profile := seedProfile(t, h, nil)
	id := strconv.Itoa(int(profile.ID))

	w := doProfilePatch(t, h, id, baseForm())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	data := decodeEnvelope(t, w)["data"].(map[string]any)
	if got := int(data["resident"].(float64)); got != 120+230+40 {
		t.Fatalf("resident must be derived from counts, got %d", got)
	}

	var stored database.VillageProfile
	if err := h.db.First(&stored, profile.ID).Error; err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if stored.Resident != stored.Children+stored.Mature+stored.Old {
		t.Fatalf("invariant violated: resident=%d children=%d mature=%d old=%d",
			stored.Resident, stored.Children, stored.Mature, stored.Old)
	}
}

func TestUpdateProfileReplaceImageLeavesExactlyOneAsset(t *testing.T) {
	h, store := newProfileTestHandler(t)

	// 先放一张旧图，URL 与假存储的公开地址约定一致。
	oldKey := "village-profile/1000_deadbeef.png"
	store.uploaded[oldKey] = []byte("old")
	oldURL := store.PublicObjectURL(oldKey)
	profile := seedProfile(t, h, &oldURL)
	id := strconv.Itoa(int(profile.ID))

	form := baseForm()
	form.FileName = "struktur-baru.png"
	form.FileType = "image/png"
	form.FileBody = []byte("\x89PNG\r\n\x1a\nnew")

	w := doProfilePatch(t, h, id, form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	if len(store.uploaded) != 1 {
		t.Fatalf("exactly one asset must remain, got %d: %v", len(store.uploaded), store.uploaded)
	}
	if len(store.deleted) != 1 || store.deleted[0] != oldKey {
		t.Fatalf("old asset must be deleted, deleted=%v", store.deleted)
	}

	var stored database.VillageProfile
	if err := h.db.First(&stored, profile.ID).Error; err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if stored.Image == nil || *stored.Image == oldURL {
		t.Fatalf("image URL must point at the new asset, got %v", stored.Image)
	}
	if !strings.Contains(*stored.Image, "village-profile/") {
		t.Fatalf("image URL must reference the profile folder: %s", *stored.Image)
	}
}

func TestUpdateProfileRemoveSentinelClearsImage(t *testing.T) {
	h, store := newProfileTestHandler(t)

	oldKey := "village-profile/1000_cafebabe.jpg"
	store.uploaded[oldKey] = []byte("old")
	oldURL := store.PublicObjectURL(oldKey)
	profile := seedProfile(t, h, &oldURL)
	id := strconv.Itoa(int(profile.ID))

	form := baseForm()
	form.Image = "null"

	w := doProfilePatch(t, h, id, form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	if len(store.uploaded) != 0 {
		t.Fatalf("asset must be deleted, still have %v", store.uploaded)
	}

	var stored database.VillageProfile
	if err := h.db.First(&stored, profile.ID).Error; err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if stored.Image != nil {
		t.Fatalf("image must be cleared, got %q", *stored.Image)
	}
}

func TestUpdateProfileKeepsImageWithoutSignal(t *testing.T) {
	h, store := newProfileTestHandler(t)

	oldKey := "village-profile/1000_12345678.png"
	store.uploaded[oldKey] = []byte("old")
	oldURL := store.PublicObjectURL(oldKey)
	profile := seedProfile(t, h, &oldURL)
	id := strconv.Itoa(int(profile.ID))

	w := doProfilePatch(t, h, id, baseForm())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.VillageProfile
	if err := h.db.First(&stored, profile.ID).Error; err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if stored.Image == nil || *stored.Image != oldURL {
		t.Fatalf("image must be untouched, got %v", stored.Image)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("nothing must be deleted, got %v", store.deleted)
	}
}

func TestUpdateProfileRejectsDisallowedImageType(t *testing.T) {
	h, store := newProfileTestHandler(t)
	profile := seedProfile(t, h, nil)
	id := strconv.Itoa(int(profile.ID))

	form := baseForm()
	form.FileName = "malware.gif"
	form.FileType = "image/gif"
	form.FileBody = []byte("GIF89a")

	w := doProfilePatch(t, h, id, form)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
	if len(store.uploaded) != 0 {
		t.Fatalf("rejected upload must not reach storage: %v", store.uploaded)
	}
}

func TestUpdateProfileValidationFailureListsRules(t *testing.T) {
	h, _ := newProfileTestHandler(t)
	profile := seedProfile(t, h, nil)
	id := strconv.Itoa(int(profile.ID))

	w := doProfilePatch(t, h, id, profileFormValues{
		Visi: "", Misi: "", Resident: "0", Children: "0", Mature: "0", Old: "0",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
	envelope := decodeEnvelope(t, w)
	if _, ok := envelope["message"].([]any); !ok {
		t.Fatalf("expected message array, got %v", envelope["message"])
	}
}

func TestUpdateMissingProfileReturnsNotFound(t *testing.T) {
	h, _ := newProfileTestHandler(t)

	w := doProfilePatch(t, h, "77", baseForm())
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestDeleteProfileRemovesAssetFirst(t *testing.T) {
	h, store := newProfileTestHandler(t)

	oldKey := "village-profile/1000_0badf00d.png"
	store.uploaded[oldKey] = []byte("old")
	oldURL := store.PublicObjectURL(oldKey)
	profile := seedProfile(t, h, &oldURL)
	id := strconv.Itoa(int(profile.ID))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/v1/village-profiles/"+id, &bytes.Buffer{})
	c.Params = gin.Params{{Key: "id", Value: id}}
	c.Set("userID", uint(1))

	h.DeleteProfile(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if len(store.uploaded) != 0 {
		t.Fatalf("asset must be deleted with the row: %v", store.uploaded)
	}

	var count int64
	h.db.Model(&database.VillageProfile{}).Count(&count)
	if count != 0 {
		t.Fatalf("profile row must be removed, %d left", count)
	}
}

func TestListProfilesCreatesCanonicalRowWhenEmpty(t *testing.T) {
	h, _ := newProfileTestHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/village-profiles", nil)

	h.ListProfiles(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	data := decodeEnvelope(t, w)["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected one canonical row, got %d", len(data))
	}

	var count int64
	h.db.Model(&database.VillageProfile{}).Count(&count)
	if count != 1 {
		t.Fatalf("canonical row must be persisted, got %d", count)
	}
}

func TestUpdateProfileRejectsOversizedImage(t *testing.T) {
	h, store := newProfileTestHandler(t)
	profile := seedProfile(t, h, nil)
	id := strconv.Itoa(int(profile.ID))

	form := baseForm()
	form.FileName = "struktur-besar.png"
	form.FileType = "image/png"
	form.FileBody = bytes.Repeat([]byte{0x42}, 6*1024*1024) // 上限 5 MiB

	w := doProfilePatch(t, h, id, form)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
	envelope := decodeEnvelope(t, w)
	if _, ok := envelope["message"].([]any); !ok {
		t.Fatalf("expected message array, got %v", envelope["message"])
	}
	if len(store.uploaded) != 0 {
		t.Fatalf("oversized upload must not reach storage: %v", store.uploaded)
	}
}

func TestUpdateProfileDeletesOldAssetOnlyAfterSave(t *testing.T) {
	h, store := newProfileTestHandler(t)

	oldKey := "village-profile/1000_feedface.png"
	store.uploaded[oldKey] = []byte("old")
	oldURL := store.PublicObjectURL(oldKey)
	profile := seedProfile(t, h, &oldURL)
	id := strconv.Itoa(int(profile.ID))

	form := baseForm()
	form.FileName = "struktur-baru.png"
	form.FileType = "image/png"
	form.FileBody = []byte("\x89PNG\r\n\x1a\nnew")

	w := doProfilePatch(t, h, id, form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	// 新对象先入库，旧对象在行保存成功后才删除；
	// 中途失败时行里的 URL 始终指向一个存在的对象。
	if len(store.ops) != 2 {
		t.Fatalf("expected upload then delete, got %v", store.ops)
	}
	if !strings.HasPrefix(store.ops[0], "upload:") {
		t.Fatalf("first operation must be the upload, got %v", store.ops)
	}
	if store.ops[1] != "delete:"+oldKey {
		t.Fatalf("old asset must be deleted last, got %v", store.ops)
	}
}
