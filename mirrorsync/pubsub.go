package mirrorsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/leads_backend/config"
)

// DrainPubSubPayload is the message body of a queue-drain trigger.
type DrainPubSubPayload struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// PubSubPushEnvelope is the push-subscription wrapper Pub/Sub wraps around
// the published message.
type PubSubPushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func drainTopicName() string {
	topic := strings.TrimSpace(os.Getenv("LEADSYNC_QUEUE_TOPIC"))
	if topic == "" {
		topic = "leadsync-queue-drain"
	}
	return topic
}

// PublishDrainTrigger asks the next available processor instance to run one
// drain pass.
func PublishDrainTrigger(ctx context.Context, reason, requestedBy string) (string, error) {
	return config.PublishJSON(ctx, drainTopicName(), DrainPubSubPayload{
		Reason:      reason,
		RequestedBy: requestedBy,
	})
}

// PubSubPushHandler runs one drain pass per push message. Always 204: a
// non-2xx would make Pub/Sub redeliver, and the queue's own retry state
// already covers failures.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var payload DrainPubSubPayload
		_ = json.Unmarshal(envelope.Message.Data, &payload)

		p := NewProcessor(config.GetDB(), config.GetMirrorDB(), config.GetLogger())
		if _, err := p.ProcessBatch(c.Request.Context()); err != nil {
			config.LogError(config.GetLogger(), "mirrorsync", "PubSubPushHandler", payload.Reason, payload, err)
		}
		c.Status(http.StatusNoContent)
	}
}

// DrainHandler is the operator-facing HTTP trigger; unlike the push handler
// it reports the batch result.
func DrainHandler(c *gin.Context) {
	p := NewProcessor(config.GetDB(), config.GetMirrorDB(), config.GetLogger())
	res, err := p.ProcessBatch(c.Request.Context())
	if err != nil {
		config.LogError(config.GetLogger(), "mirrorsync", "DrainHandler", "", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
