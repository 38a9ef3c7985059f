package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

type BlobsHandler struct {
	archive interfaces.BlobArchive
}

func NewBlobsHandler(archive interfaces.BlobArchive) *BlobsHandler {
	return &BlobsHandler{archive: archive}
}

// Get serves archived image bytes. Expired blobs answer 404.
func (h *BlobsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BlobsHandler.Get")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		key := strings.TrimPrefix(c.Param("key"), "/")
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "blob key is required"})
			return
		}
		span.LogKV("key", key)

		data, err := h.archive.Get(ctx, key)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		contentType := utils.DetectImageContentType("", data)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Cache-Control", "public, max-age=86400, immutable")
		c.Data(http.StatusOK, contentType, data)
	}
}
