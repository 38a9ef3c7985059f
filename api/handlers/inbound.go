package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
)

// InboundQueue hands an inbound mail to the asynchronous ingest queue.
type InboundQueue interface {
	PublishReceivePropertyEmailEvent(ctx context.Context, message dto.PropertyEmailReceived) error
}

type InboundHandler struct {
	ingest     interfaces.MailIngestHandler
	queue      InboundQueue
	httpClient *http.Client
	log        logger.Logger
}

func NewInboundHandler(ingest interfaces.MailIngestHandler, queue InboundQueue, log logger.Logger) *InboundHandler {
	return &InboundHandler{
		ingest:     ingest,
		queue:      queue,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Receive accepts the inbound mail trigger with a base64 rawMessage. With ?async=true and a
// queue configured the mail is queued and 202 is returned.
func (h *InboundHandler) Receive() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "InboundHandler.Receive")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var request dto.PropertyEmailReceived
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(request.RawMessage) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rawMessage is required"})
			return
		}

		if c.Query("async") == "true" && h.queue != nil {
			if err := h.queue.PublishReceivePropertyEmailEvent(ctx, request); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"message": "Accepted"})
			return
		}

		h.respond(c, ctx, request.ToIngestEvent(enum.IngestTransportHTTP))
	}
}

// ReceiveSNS accepts SES receipt notifications delivered through an SNS topic.
func (h *InboundHandler) ReceiveSNS() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "InboundHandler.ReceiveSNS")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		// SNS posts with Content-Type text/plain.
		var message dto.SNSMessage
		if err := json.NewDecoder(c.Request.Body).Decode(&message); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid SNS message"})
			return
		}
		span.LogKV("snsType", message.Type, "snsMessageId", message.MessageId)

		switch message.Type {
		case dto.SNSTypeSubscriptionConfirmation:
			if err := h.confirmSubscription(ctx, message.SubscribeURL); err != nil {
				tracing.TraceErr(span, err)
				h.log.Errorf("SNS subscription not confirmed: %v", err)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			h.log.Infof("SNS subscription confirmed for topic %s", message.TopicArn)
			c.JSON(http.StatusOK, gin.H{"message": "Subscription confirmed"})
		case dto.SNSTypeNotification:
			var notification dto.SESNotification
			if err := json.Unmarshal([]byte(message.Message), &notification); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid SES notification"})
				return
			}
			if notification.Content == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "SES notification carries no content"})
				return
			}
			h.respond(c, ctx, notification.ToPropertyEmailReceived().ToIngestEvent(enum.IngestTransportSNS))
		default:
			c.JSON(http.StatusOK, gin.H{"message": "Ignored"})
		}
	}
}

func (h *InboundHandler) respond(c *gin.Context, ctx context.Context, event models.IngestEvent) {
	result, err := h.ingest.Handle(ctx, event)
	response := toIngestResponse(result, err)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, response)
	case result != nil && result.Outcome == enum.IngestRejected:
		c.JSON(http.StatusUnprocessableEntity, response)
	default:
		c.JSON(statusForError(err), response)
	}
}

func (h *InboundHandler) confirmSubscription(ctx context.Context, subscribeURL string) error {
	u, err := url.Parse(subscribeURL)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return errors.Errorf("refusing subscribe url %q", subscribeURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "subscribe request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("subscribe request returned %d", resp.StatusCode)
	}
	return nil
}

func toIngestResponse(result *models.IngestResult, err error) dto.IngestResponse {
	response := dto.IngestResponse{Outcome: enum.IngestFailed}
	if result != nil {
		response.PropertyID = result.PropertyID
		response.Outcome = result.Outcome
		response.RejectReason = result.RejectReason
		response.NewImages = result.NewImages
		response.DuplicateImages = result.DuplicateImages
		if result.Record != nil {
			response.TotalImages = len(result.Record.Images)
		}
	}
	if err != nil {
		response.Error = err.Error()
	}
	return response
}
