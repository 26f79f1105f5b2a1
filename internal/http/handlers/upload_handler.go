// Upload HTTP handlers.
//
//   - POST   /upload            (multipart "files", up to MaxUploadFiles)
//   - POST   /upload/single     (multipart "file")
//   - POST   /upload/multiple   (multipart "files", up to 5)
//   - GET    /upload/file/{filename}
//   - GET    /upload/list       (weak ETag, 304 on If-None-Match)
//   - DELETE /upload/file/{filename}
package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/services"
)

const maxMultipleFiles = 5

// UploadResponse lists the stored files.
type UploadResponse struct {
	Files []domain.Attachment `json:"files"`
}

// SingleUploadResponse is the stored file of /upload/single.
type SingleUploadResponse struct {
	File domain.Attachment `json:"file"`
}

// uploadError maps UploadService errors to responses.
func (h *Handlers) uploadError(c *gin.Context, err error, maxFiles int) {
	switch {
	case errors.Is(err, services.ErrNoFiles):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "没有选择文件")
	case errors.Is(err, services.ErrTooManyFiles):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("文件数量超过限制（最多%d个）", maxFiles))
	case errors.Is(err, services.ErrFileTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, fmt.Sprintf("文件大小超过限制（最大%s）", h.Uploads.LimitText()))
	case errors.Is(err, services.ErrUnsupportedType):
		fail(c, http.StatusBadRequest, ErrCodeUnsupported, "不支持的文件类型，请上传图片、音频、视频、文档或PDF文件")
	case errors.Is(err, services.ErrBadFilename):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "文件名不合法")
	case errors.Is(err, services.ErrFileNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "文件不存在")
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeUploadFailed, "文件上传失败", err)
	}
}

// formFiles collects the files under field. A request that is not
// multipart, or that overflowed the body limit, counts as "no files" or
// "too large".
func formFiles(c *gin.Context, field string) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, services.ErrFileTooLarge
		}
		return nil, services.ErrNoFiles
	}
	return form.File[field], nil
}

func (h *Handlers) saveFiles(c *gin.Context, field string, maxFiles int) ([]domain.Attachment, bool) {
	files, err := formFiles(c, field)
	if err == nil {
		var saved []domain.Attachment
		saved, err = h.Uploads.Save(c.Request.Context(), userID(c), files, maxFiles)
		if err == nil {
			return saved, true
		}
	}
	h.uploadError(c, err, maxFiles)
	return nil, false
}

// Upload godoc
// @ID          upload
// @Summary     Upload files
// @Description Accepts images, audio, video, plain text, PDF and Office documents.
// @Tags        Uploads
// @Accept      multipart/form-data
// @Produce     json
// @Param       files  formData  file  true  "Files"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.UploadResponse}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /upload [post]
func (h *Handlers) Upload(c *gin.Context) {
	saved, done := h.saveFiles(c, "files", h.MaxUploadFiles)
	if !done {
		return
	}
	okMsg(c, http.StatusOK, fmt.Sprintf("成功上传 %d 个文件", len(saved)), UploadResponse{Files: saved})
}

// UploadSingle godoc
// @ID          uploadSingle
// @Summary     Upload one file
// @Tags        Uploads
// @Accept      multipart/form-data
// @Produce     json
// @Param       file  formData  file  true  "File"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.SingleUploadResponse}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse
// @Router      /upload/single [post]
func (h *Handlers) UploadSingle(c *gin.Context) {
	saved, done := h.saveFiles(c, "file", 1)
	if !done {
		return
	}
	okMsg(c, http.StatusOK, "文件上传成功", SingleUploadResponse{File: saved[0]})
}

// UploadMultiple godoc
// @ID          uploadMultiple
// @Summary     Upload up to five files
// @Tags        Uploads
// @Accept      multipart/form-data
// @Produce     json
// @Param       files  formData  file  true  "Files"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.UploadResponse}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse
// @Router      /upload/multiple [post]
func (h *Handlers) UploadMultiple(c *gin.Context) {
	saved, done := h.saveFiles(c, "files", maxMultipleFiles)
	if !done {
		return
	}
	okMsg(c, http.StatusOK, fmt.Sprintf("成功上传 %d 个文件", len(saved)), UploadResponse{Files: saved})
}

// DownloadFile godoc
// @ID          downloadFile
// @Summary     Download a stored file
// @Tags        Uploads
// @Produce     octet-stream
// @Param       filename  path  string  true  "Stored filename"
// @Success     200  {file}  binary
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /upload/file/{filename} [get]
func (h *Handlers) DownloadFile(c *gin.Context) {
	name := c.Param("filename")
	p, err := h.Uploads.Path(name)
	if err != nil {
		h.uploadError(c, err, 0)
		return
	}
	if f, err := h.Uploads.Lookup(c.Request.Context(), name); err == nil {
		c.Header("Content-Type", f.MimeType)
		c.FileAttachment(p, f.OriginalName)
		return
	}
	// files copied in by hand have no metadata row
	c.File(p)
}

// ListUploads godoc
// @ID          listUploads
// @Summary     List stored files
// @Tags        Uploads
// @Produce     json
// @Param       If-None-Match  header  string  false  "ETag from a previous list"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.UploadResponse}
// @Success     304  "Not modified"
// @Header      200  {string}  ETag  "Weak validator for the list"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /upload/list [get]
func (h *Handlers) ListUploads(c *gin.Context) {
	ctx := c.Request.Context()
	etag, err := h.Uploads.ListETag(ctx)
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeListFailed, "获取文件列表失败", err)
		return
	}
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	files, err := h.Uploads.List(ctx)
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeListFailed, "获取文件列表失败", err)
		return
	}
	ok(c, http.StatusOK, UploadResponse{Files: files})
}

// DeleteUpload godoc
// @ID          deleteUpload
// @Summary     Delete a stored file
// @Tags        Uploads
// @Produce     json
// @Param       filename  path  string  true  "Stored filename"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /upload/file/{filename} [delete]
func (h *Handlers) DeleteUpload(c *gin.Context) {
	err := h.Uploads.Delete(c.Request.Context(), userID(c), c.Param("filename"))
	switch {
	case err == nil:
		okMsg(c, http.StatusOK, "文件删除成功", nil)
	case errors.Is(err, services.ErrBadFilename), errors.Is(err, services.ErrFileNotFound):
		h.uploadError(c, err, 0)
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeDeleteFailed, "删除文件失败", err)
	}
}
