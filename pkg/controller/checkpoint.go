package controller

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"reasonrt/pkg/machine"
)

const checkpointVersion = 1

// checkpointPayload is the serialized form of a checkpoint token.
type checkpointPayload struct {
	Version   int           `json:"version"`
	RequestID string        `json:"request_id"`
	Strategy  string        `json:"strategy"`
	TakenAt   time.Time     `json:"taken_at"`
	State     machine.State `json:"state"`
}

// Checkpoint captures the current state as an opaque token. The token is
// self-contained: a controller built with the same machine configuration can
// resume from it after a restart. Streaming text is dropped since the
// interrupted call is reissued on resume anyway.
func (c *Controller) Checkpoint() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRequest == "" {
		return "", ErrNoRequest
	}
	st := c.state
	st.StreamingText = ""
	payload := checkpointPayload{
		Version:   checkpointVersion,
		RequestID: c.activeRequest,
		Strategy:  c.machine.Strategy().Name(),
		TakenAt:   time.Now().UTC(),
		State:     st,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Resume restores a checkpoint token into an idle controller and reissues
// whatever was in flight when the checkpoint was taken. The strategy baked
// into the token must match this controller's machine.
func (c *Controller) Resume(ctx context.Context, token string) error {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	var payload checkpointPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse checkpoint: %w", err)
	}
	if payload.Version != checkpointVersion {
		return fmt.Errorf("unsupported checkpoint version %d", payload.Version)
	}
	if got := c.machine.Strategy().Name(); payload.Strategy != got {
		return fmt.Errorf("checkpoint strategy %q does not match controller strategy %q", payload.Strategy, got)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRequest != "" && !c.state.Status.Terminal() {
		return ErrBusy
	}

	c.activeRequest = payload.RequestID
	c.startedAt = time.Now()
	c.done = make(chan struct{})
	c.reqCtx, c.reqCancel = context.WithCancel(ctx)

	next, directives := c.machine.Resume(payload.State)
	c.state = next
	for _, d := range directives {
		c.journal.Directive(c.activeRequest, d)
		c.exec.Execute(c.reqCtx, c.activeRequest, d)
	}
	c.log.Info("resumed request %s from checkpoint taken %s", payload.RequestID, payload.TakenAt.Format(time.RFC3339))

	if c.state.Status.Terminal() {
		c.finishLocked()
	}
	return nil
}
