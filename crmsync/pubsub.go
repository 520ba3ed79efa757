package crmsync

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

// JobPubSubPayload is the message body of a job-process trigger.
type JobPubSubPayload struct {
	JobID uint `json:"job_id"`
}

type jobPushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func jobTopicName() string {
	topic := strings.TrimSpace(os.Getenv("LEADSYNC_JOB_TOPIC"))
	if topic == "" {
		topic = "leadsync-job-process"
	}
	return topic
}

// PublishJobTrigger schedules one batch of the job.
func PublishJobTrigger(ctx context.Context, jobID uint) (string, error) {
	return config.PublishJSON(ctx, jobTopicName(), JobPubSubPayload{JobID: jobID})
}

// PubSubPushHandler runs one job batch per push message. With trigger
// chaining enabled it republishes while batches remain, so one create drives
// the job to a terminal state. Always 204: job retry state lives in the job
// row, not in Pub/Sub redelivery.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope jobPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var payload JobPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil || payload.JobID == 0 {
			c.Status(http.StatusNoContent)
			return
		}

		engine := NewEngine(config.GetDB(), config.GetLogger())
		progress, err := engine.ProcessJob(c.Request.Context(), payload.JobID)
		if err != nil {
			config.LogError(config.GetLogger(), "crmsync", "PubSubPushHandler", "", payload, err)
			c.Status(http.StatusNoContent)
			return
		}

		if progress.HasMore && config.ChainJobTriggers() {
			if _, err := PublishJobTrigger(c.Request.Context(), payload.JobID); err != nil {
				config.LogError(config.GetLogger(), "crmsync", "PubSubPushHandler", "chain trigger", payload, err)
			}
		}
		c.Status(http.StatusNoContent)
	}
}
