package handler

import (
	"net/http"
	"strings"

	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/pkg/storage"
	"github.com/gin-gonic/gin"
)

// Max upload size: 50MB
const maxUploadSize = 50 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var allowedVideoTypes = map[string]bool{
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
}

var allowedAudioTypes = map[string]bool{
	"audio/mpeg": true,
	"audio/ogg":  true,
	"audio/wav":  true,
	"audio/webm": true,
}

var allowedFileTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/zip":    true,
}

// UploadHandler is the media boundary: blob in, durable opaque URL out. The
// messaging core never inspects what the URL points at.
type UploadHandler struct {
	storage *storage.MinIOStorage
}

func NewUploadHandler(storage *storage.MinIOStorage) *UploadHandler {
	return &UploadHandler{storage: storage}
}

// UploadFile godoc
// @Summary Upload a media file
// @Description Upload an image, video, voice note or document. Returns the durable URL and its media kind for attaching to messages.
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "File to upload"
// @Success 200 {object} model.UploadResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 413 {object} model.ErrorResponse
// @Router /upload [post]
func (h *UploadHandler) UploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if err.Error() == "http: request body too large" {
			c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{Error: "File too large (max 50MB)"})
			return
		}
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "File is required", Message: err.Error()})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Unable to detect file type"})
		return
	}

	kind := mediaKind(contentType)
	if kind == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "Unsupported file type",
			Message: "Allowed: jpg, png, gif, webp, mp4, webm, mov, mp3, ogg, wav, pdf, doc, zip",
		})
		return
	}

	result, err := h.storage.Upload(c.Request.Context(), file, header, string(kind)+"s")
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to upload file", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.UploadResponse{
		URL:      result.URL,
		Kind:     kind,
		FileName: result.FileName,
		FileSize: result.FileSize,
		MimeType: result.MimeType,
	})
}

// mediaKind maps a content type to the attachment kind messages carry.
func mediaKind(contentType string) model.MediaKind {
	ct := strings.ToLower(contentType)
	switch {
	case allowedImageTypes[ct]:
		return model.MediaKindImage
	case allowedVideoTypes[ct]:
		return model.MediaKindVideo
	case allowedAudioTypes[ct]:
		return model.MediaKindAudio
	case allowedFileTypes[ct]:
		return model.MediaKindFile
	}
	return ""
}
