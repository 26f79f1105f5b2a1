package domain

import "time"

// Idempotency records the outcome of a completed chat send, keyed by
// (user_id, scope, key). Scope is the route that produced the record, so the
// same key may be reused across endpoints. A replay returns the stored
// assistant message from ChatID without calling any upstream again.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:3"`
	ChatID    string    `gorm:"type:TEXT NOT NULL"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// UploadedFile is the metadata row for a file stored under the upload dir.
type UploadedFile struct {
	ID           string    `json:"-"            gorm:"type:char(36);primaryKey"`
	Filename     string    `json:"filename"     gorm:"type:varchar(255);not null;uniqueIndex"`
	OriginalName string    `json:"originalname" gorm:"type:varchar(255);not null"`
	MimeType     string    `json:"mimetype"     gorm:"type:varchar(128);not null"`
	Size         int64     `json:"size"         gorm:"not null"`
	OwnerID      string    `json:"-"            gorm:"type:varchar(64);not null;index"`
	CreatedAt    time.Time `json:"uploadTime"`
}

// TableName implements the GORM tabler interface.
func (UploadedFile) TableName() string { return "uploaded_files" }

// Attachment converts the row into a message attachment served from base.
func (f UploadedFile) Attachment(base string) Attachment {
	return Attachment{
		Filename:     f.Filename,
		OriginalName: f.OriginalName,
		MimeType:     f.MimeType,
		Size:         f.Size,
		URL:          base + "/upload/file/" + f.Filename,
	}
}
