package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/adops_backend/appctx"
	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the envelope of a push subscription delivery.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pubSubPush feeds outbox events to the e-mail notifier. Malformed deliveries are
// acked so they are not retried forever; processing failures answer 500 so Pub/Sub
// redelivers.
func (h *Handler) pubSubPush(c *gin.Context) {
	if token := config.PubSubPushToken(); token != "" {
		if subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(token)) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(h.Logger, "Handler", "pubSubPush", "io.ReadAll", nil, err)
		c.Status(http.StatusNoContent)
		return
	}

	var msg PubSubMessage
	// []byte fields are base64 decoded by encoding/json
	if err := json.Unmarshal(body, &msg); err != nil {
		config.LogError(h.Logger, "Handler", "pubSubPush", "Unmarshal body", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}

	var event config.EventMessage
	if err := json.Unmarshal(msg.Message.Data, &event); err != nil {
		config.LogError(h.Logger, "Handler", "pubSubPush", "Unmarshal event", string(msg.Message.Data), err)
		c.Status(http.StatusNoContent)
		return
	}
	if event.EventId == "" || event.EventType == "" {
		config.LogError(h.Logger, "Handler", "pubSubPush", "invalid event", event, errors.New("event_id/event_type required"))
		c.Status(http.StatusNoContent)
		return
	}
	if h.Notifier == nil {
		c.Status(http.StatusNoContent)
		return
	}

	correlationID := event.CorrelationId
	if correlationID == "" {
		correlationID = msg.Message.ID
	}
	ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
	ctx = utils.SetActorInContext(ctx, appctx.System)

	if err := h.Notifier.Consume(ctx, h.DB, event); err != nil {
		if h.Logger != nil {
			h.Logger.WithFields(logrus.Fields{
				"field":          "pubSubPush",
				"event_id":       event.EventId,
				"event_type":     event.EventType,
				"message_id":     msg.Message.ID,
				"correlation_id": correlationID,
			}).Error("pubsub processing failed: " + err.Error())
		}
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}
