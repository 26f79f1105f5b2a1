package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("Idempotency.TableName() = %q", (Idempotency{}).TableName())
	}
	if (UploadedFile{}).TableName() != "uploaded_files" {
		t.Fatalf("UploadedFile.TableName() = %q", (UploadedFile{}).TableName())
	}
}

func TestIdempotency_Migration_UniqueScopeKey(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("expected composite index ux_user_scope_key to exist")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID: "id-1", UserID: "u1", Scope: "/api/chat/send", Key: "k1",
		ChatID: "c1", MessageID: "m1", Status: 200,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	dup := *rec
	dup.ID = "id-2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (user_id, scope, key)")
	}

	other := *rec
	other.ID = "id-3"
	other.Scope = "/api/chat/stream"
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("same key in another scope should be allowed: %v", err)
	}
}

func TestUploadedFile_Migration_AndAttachment(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&UploadedFile{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	f := &UploadedFile{ID: "f1", Filename: "1_cat.png", OriginalName: "cat.png", MimeType: "image/png", Size: 10, OwnerID: "guest"}
	if err := db.Create(f).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := *f
	dup.ID = "f2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique filename violation")
	}

	a := f.Attachment("/api")
	if a.URL != "/api/upload/file/1_cat.png" || !a.IsImage() {
		t.Fatalf("unexpected attachment: %+v", a)
	}
}
