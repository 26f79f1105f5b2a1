package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
)

var allowedMIME = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff", "image/svg+xml",
	"audio/mpeg", "audio/wav", "audio/x-wav", "audio/ogg", "audio/aac", "audio/flac", "audio/x-flac",
	"audio/mp4", "audio/x-m4a", "audio/x-ms-wma", "audio/webm",
	"video/mp4", "video/x-msvideo", "video/quicktime", "video/x-ms-wmv", "video/webm", "video/ogg",
	"video/3gpp", "video/x-flv", "video/x-matroska",
	"text/plain", "application/pdf",
	"application/msword", "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// UploadService stores uploaded files on disk and their metadata in SQLite.
type UploadService struct {
	DB           *gorm.DB
	Dir          string
	MaxFileBytes int64
	BasePath     string // API base path used to build download URLs

	now func() time.Time
}

// NewUploadService constructs an UploadService.
func NewUploadService(db *gorm.DB, dir string, maxFileBytes int64, basePath string) *UploadService {
	return &UploadService{DB: db, Dir: dir, MaxFileBytes: maxFileBytes, BasePath: basePath, now: time.Now}
}

// LimitText is the human readable per-file limit, e.g. "100 MiB".
func (s *UploadService) LimitText() string {
	return humanize.IBytes(uint64(s.MaxFileBytes))
}

// Save stores every file. It stops at the first rejected file; files saved
// before it are kept.
func (s *UploadService) Save(ctx context.Context, ownerID string, files []*multipart.FileHeader, maxFiles int) ([]domain.Attachment, error) {
	ctx, span := otel.Tracer("services/UploadService").Start(ctx, "Save",
		trace.WithAttributes(attribute.Int("upload.count", len(files))),
	)
	defer span.End()

	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if maxFiles > 0 && len(files) > maxFiles {
		return nil, fmt.Errorf("%w: at most %d", ErrTooManyFiles, maxFiles)
	}
	out := make([]domain.Attachment, 0, len(files))
	for _, fh := range files {
		a, err := s.saveOne(ctx, bucketOf(ownerID), fh)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *UploadService) saveOne(ctx context.Context, owner string, fh *multipart.FileHeader) (domain.Attachment, error) {
	if s.MaxFileBytes > 0 && fh.Size > s.MaxFileBytes {
		return domain.Attachment{}, fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge, humanize.IBytes(uint64(fh.Size)), s.LimitText())
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return domain.Attachment{}, err
	}

	src, err := fh.Open()
	if err != nil {
		return domain.Attachment{}, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return domain.Attachment{}, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	limit := s.MaxFileBytes
	if limit <= 0 {
		limit = 1 << 62
	}
	n, err := io.Copy(tmp, io.LimitReader(src, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return domain.Attachment{}, err
	}
	if n > limit {
		return domain.Attachment{}, fmt.Errorf("%w: exceeds %s", ErrFileTooLarge, s.LimitText())
	}

	mt, err := mimetype.DetectFile(tmpName)
	if err != nil {
		return domain.Attachment{}, err
	}
	if !allowed(mt) {
		return domain.Attachment{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}

	original := cleanOriginalName(fh.Filename)
	stored := s.storedName(original)
	if err := os.Rename(tmpName, filepath.Join(s.Dir, stored)); err != nil {
		return domain.Attachment{}, err
	}

	row := &domain.UploadedFile{
		Filename:     stored,
		OriginalName: original,
		MimeType:     baseMIME(mt.String()),
		Size:         n,
		OwnerID:      owner,
		CreatedAt:    s.now(),
	}
	if err := repo.CreateUpload(ctx, s.DB, row); err != nil {
		_ = os.Remove(filepath.Join(s.Dir, stored))
		return domain.Attachment{}, err
	}
	return row.Attachment(s.BasePath), nil
}

func allowed(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		for _, a := range allowedMIME {
			if m.Is(a) {
				return true
			}
		}
	}
	return false
}

func baseMIME(s string) string {
	t, _, _ := strings.Cut(s, ";")
	return strings.TrimSpace(t)
}

// cleanOriginalName keeps only the final path element of a client name.
func cleanOriginalName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "file"
	}
	return name
}

var unsafeNameChars = strings.NewReplacer("/", "_", "\\", "_", "\x00", "", " ", "_")

// storedName is "<unix-ms>_<base><ext>", unique within Dir.
func (s *UploadService) storedName(original string) string {
	ext := filepath.Ext(original)
	base := unsafeNameChars.Replace(strings.TrimSuffix(original, ext))
	if base == "" {
		base = "file"
	}
	ms := s.now().UnixMilli()
	name := fmt.Sprintf("%d_%s%s", ms, base, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(s.Dir, name)); errors.Is(err, os.ErrNotExist) {
			return name
		}
		name = fmt.Sprintf("%d_%s-%s%s", ms, base, strconv.Itoa(i), ext)
	}
}

// Path resolves a stored filename to its location, rejecting anything that
// could escape the upload directory.
func (s *UploadService) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) ||
		filename == "." || filename == ".." || strings.HasPrefix(filename, ".") {
		return "", ErrBadFilename
	}
	dir, err := filepath.Abs(s.Dir)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, filename)
	if rel, err := filepath.Rel(dir, p); err != nil || strings.HasPrefix(rel, "..") {
		return "", ErrBadFilename
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrFileNotFound
		}
		return "", err
	}
	return p, nil
}

// Open implements AttachmentSource.
func (s *UploadService) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.Path(filename)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Lookup returns the stored metadata for filename, or ErrFileNotFound.
func (s *UploadService) Lookup(ctx context.Context, filename string) (*domain.UploadedFile, error) {
	f, err := repo.GetUpload(ctx, s.DB, filename)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	return f, err
}

// Resolve turns client-supplied attachments into stored ones, dropping any
// that do not exist.
func (s *UploadService) Resolve(ctx context.Context, in []domain.Attachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		f, err := s.Lookup(ctx, a.Filename)
		if err != nil {
			continue
		}
		out = append(out, f.Attachment(s.BasePath))
	}
	return out
}

// List returns all uploads, newest first.
func (s *UploadService) List(ctx context.Context) ([]domain.Attachment, error) {
	rows, err := repo.ListUploads(ctx, s.DB, "")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attachment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Attachment(s.BasePath))
	}
	return out, nil
}

// ListETag is a weak validator for List built from the row count and the
// newest upload time.
func (s *UploadService) ListETag(ctx context.Context) (string, error) {
	n, latest, err := repo.UploadsStats(ctx, s.DB, "")
	if err != nil {
		return "", err
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	return fmt.Sprintf(`W/"uploads-%d-%d"`, n, ts), nil
}

// Delete removes a file and its metadata. Only the uploader's bucket may
// delete a recorded file.
func (s *UploadService) Delete(ctx context.Context, ownerID, filename string) error {
	ctx, span := otel.Tracer("services/UploadService").Start(ctx, "Delete")
	defer span.End()

	p, err := s.Path(filename)
	if err != nil {
		return err
	}
	row, err := repo.GetUpload(ctx, s.DB, filename)
	switch {
	case err == nil:
		if row.OwnerID != bucketOf(ownerID) {
			return ErrFileNotFound
		}
		if err := repo.DeleteUpload(ctx, s.DB, filename); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
