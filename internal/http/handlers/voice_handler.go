package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aixiaozi/go-kids-chat/internal/services"
)

// TranslateRequest is text to put into Chinese.
type TranslateRequest struct {
	Text string `json:"text" example:"Why is the sky blue?"`
}

// SpeechToTextResponse is a transcript without translation.
type SpeechToTextResponse struct {
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// TranslateResponse is services.Translation with a timestamp.
type TranslateResponse struct {
	services.Translation
	Timestamp time.Time `json:"timestamp"`
}

func voiceError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrNoAudio):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "请上传音频文件")
	case errors.Is(err, services.ErrVoiceDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "语音功能暂时关闭了哦")
	case errors.Is(err, services.ErrAudioFormat):
		fail(c, http.StatusBadRequest, ErrCodeUnsupported, "不支持的音频格式")
	case errors.Is(err, services.ErrAudioTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "音频文件太大啦")
	case errors.Is(err, services.ErrEmptyText):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "请提供要翻译的文本")
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeTranscribeFailed, msg, err)
	}
}

// transcribe reads the multipart "audio" field and runs it through Voice.
func (h *Handlers) transcribe(c *gin.Context, translate bool) (*services.Transcript, error) {
	fh, err := c.FormFile("audio")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, services.ErrAudioTooLarge
		}
		return nil, services.ErrNoAudio
	}
	if err := h.Voice.ValidateAudio(fh.Filename, fh.Size); err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return h.Voice.Transcribe(c.Request.Context(), fh.Filename, f, fh.Size, translate)
}

// Transcribe godoc
// @ID          voiceTranscribe
// @Summary     Audio to Chinese text
// @Description Transcribes the audio and translates non-Chinese speech into Chinese.
// @Tags        Voice
// @Accept      multipart/form-data
// @Produce     json
// @Param       audio  formData  file  true  "Audio file"
// @Success     200  {object}  handlers.SuccessResponse{data=services.Transcript}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /voice/transcribe [post]
func (h *Handlers) Transcribe(c *gin.Context) {
	t, err := h.transcribe(c, true)
	if err != nil {
		voiceError(c, err, "语音处理失败，请稍后重试")
		return
	}
	ok(c, http.StatusOK, t)
}

// SpeechToText godoc
// @ID          speechToText
// @Summary     Audio to text
// @Tags        Voice
// @Accept      multipart/form-data
// @Produce     json
// @Param       audio  formData  file  true  "Audio file"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.SpeechToTextResponse}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /voice/speech-to-text [post]
func (h *Handlers) SpeechToText(c *gin.Context) {
	t, err := h.transcribe(c, false)
	if err != nil {
		voiceError(c, err, "语音识别失败，请稍后重试")
		return
	}
	ok(c, http.StatusOK, SpeechToTextResponse{Text: t.OriginalText, Language: t.Language, Timestamp: h.now().UTC()})
}

// Translate godoc
// @ID          translate
// @Summary     Text to Chinese
// @Tags        Voice
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.TranslateRequest  true  "Text"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.TranslateResponse}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /voice/translate [post]
func (h *Handlers) Translate(c *gin.Context) {
	var req TranslateRequest
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "请提供要翻译的文本")
		return
	}
	tr, err := h.Voice.Translate(c.Request.Context(), req.Text)
	if err != nil {
		if errors.Is(err, services.ErrEmptyText) {
			voiceError(c, err, "")
			return
		}
		failErr(c, http.StatusInternalServerError, ErrCodeTranslateFailed, "翻译失败，请稍后重试", err)
		return
	}
	ok(c, http.StatusOK, TranslateResponse{Translation: *tr, Timestamp: h.now().UTC()})
}

// VoiceStatus godoc
// @ID          voiceStatus
// @Summary     Voice configuration
// @Tags        Voice
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=services.VoiceStatus}
// @Router      /voice/status [get]
func (h *Handlers) VoiceStatus(c *gin.Context) {
	ok(c, http.StatusOK, h.Voice.Status())
}
