package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

const maxBatchGetIDs = 500

type PropertiesHandler struct {
	store interfaces.PropertyImageStore
}

func NewPropertiesHandler(store interfaces.PropertyImageStore) *PropertiesHandler {
	return &PropertiesHandler{store: store}
}

func (h *PropertiesHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "PropertiesHandler.Get")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		record, err := h.store.Get(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// List returns the records of ?ids=a,b keyed by id. Unknown ids are omitted.
func (h *PropertiesHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "PropertiesHandler.List")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		ids := make([]string, 0)
		for _, id := range utils.StringToSlice(c.Query("ids")) {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		ids = utils.UniqueStrings(ids)
		if len(ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids query parameter is required"})
			return
		}
		if len(ids) > maxBatchGetIDs {
			c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids"})
			return
		}

		records, err := h.store.BatchGet(ctx, ids)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		if records == nil {
			records = map[string]*models.PropertyRecord{}
		}
		c.JSON(http.StatusOK, records)
	}
}
