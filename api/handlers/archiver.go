package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/tracing"
)

type ArchiverHandler struct {
	archiver interfaces.Archiver
}

func NewArchiverHandler(archiver interfaces.Archiver) *ArchiverHandler {
	return &ArchiverHandler{archiver: archiver}
}

// Run triggers one archiver run and returns its report. A run already in progress answers 503.
func (h *ArchiverHandler) Run() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ArchiverHandler.Run")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if h.archiver == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archiver is not configured"})
			return
		}

		report, err := h.archiver.Run(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error(), "report": report})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

type InboxHandler struct {
	inbox interfaces.InboxPoller
}

func NewInboxHandler(inbox interfaces.InboxPoller) *InboxHandler {
	return &InboxHandler{inbox: inbox}
}

// Poll triggers one IMAP inbox poll.
func (h *InboxHandler) Poll() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "InboxHandler.Poll")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if h.inbox == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inbox polling is not configured"})
			return
		}

		report, err := h.inbox.Poll(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusForError(err), gin.H{"error": err.Error(), "report": report})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
