package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
)

// CreateUpload records metadata for a file already written to disk.
func CreateUpload(ctx context.Context, db *gorm.DB, f *domain.UploadedFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUpload fetches upload metadata by stored filename.
func GetUpload(ctx context.Context, db *gorm.DB, filename string) (*domain.UploadedFile, error) {
	var f domain.UploadedFile
	err := db.WithContext(ctx).Where("filename = ?", filename).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListUploads returns uploads, newest first. An empty ownerID lists all.
func ListUploads(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.UploadedFile, error) {
	out := []domain.UploadedFile{}
	q := db.WithContext(ctx).Order("created_at desc")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	err := q.Find(&out).Error
	return out, err
}

// DeleteUpload removes the metadata row. Missing rows yield ErrNotFound.
func DeleteUpload(ctx context.Context, db *gorm.DB, filename string) error {
	res := db.WithContext(ctx).Where("filename = ?", filename).Delete(&domain.UploadedFile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UploadsStats returns the number of uploads for ownerID and the newest
// upload time, or nil when there are none. Used for listing ETags.
func UploadsStats(ctx context.Context, db *gorm.DB, ownerID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.UploadedFile{})
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// avoid MAX() -> TEXT in SQLite
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
