package progress

import (
	"encoding/json"

	"extract_gateway/internal/utils"
)

// ProgressMessage is the frame pushed to viewers as a batch advances.
type ProgressMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Stage     string `json:"stage,omitempty"`
}

// Broadcaster publishes progress updates to every connection of a
// session. Delivery is best effort: a viewer that cannot keep up is
// dropped rather than allowed to stall the publisher.
type Broadcaster struct {
	registry *Registry
	logger   *utils.Logger
}

// NewBroadcaster wraps a registry for publishing.
func NewBroadcaster(registry *Registry, logger *utils.Logger) *Broadcaster {
	if logger == nil {
		logger = utils.NewLogger("broadcast")
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// BroadcastProgress sends a progress update to a session's viewers and
// returns how many received it. Progress is clamped to 0..100. Never
// blocks on a slow viewer.
func (b *Broadcaster) BroadcastProgress(sessionID string, progress int, message, stage string) int {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	payload, err := json.Marshal(ProgressMessage{
		Type:      "progress",
		SessionID: sessionID,
		Progress:  progress,
		Message:   message,
		Stage:     stage,
	})
	if err != nil {
		b.logger.Error("failed to encode progress message", "error", err.Error())
		return 0
	}

	sent := b.registry.sendToSession(sessionID, payload)
	b.logger.Debug("progress broadcast",
		"session_id", sessionID,
		"progress", progress,
		"stage", stage,
		"delivered", sent)
	return sent
}
