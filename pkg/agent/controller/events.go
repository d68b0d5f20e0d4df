package controller

import (
	"context"
	"time"

	"github.com/kestrelops/kestrel/pkg/agent"
	"github.com/kestrelops/kestrel/pkg/models"
)

// payloadTextLimit bounds how much tool/model text lands in event payloads.
const payloadTextLimit = 2000

func record(ctx context.Context, execCtx *agent.ExecutionContext, t models.EventType, payload map[string]any, tokens int) {
	if execCtx.Recorder == nil {
		return
	}
	execCtx.Recorder.Record(ctx, models.Event{
		InstanceID: execCtx.Instance.ID,
		Type:       t,
		Payload:    payload,
		TokensUsed: tokens,
		Timestamp:  time.Now(),
	})
}

func truncate(s string) string {
	if len(s) > payloadTextLimit {
		return s[:payloadTextLimit] + "…"
	}
	return s
}
