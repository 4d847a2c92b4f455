package agenda

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinica/agenda/internal/platform/websocket"
)

// ToastTopic is the websocket topic toasts are published on.
const ToastTopic = "toasts"

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is a short user-facing notification.
type Toast struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier delivers toasts to the user. Implementations must not block.
type Notifier interface {
	Notify(t Toast)
}

// LogNotifier writes toasts to the log only.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(t Toast) {
	ev := n.Log.Info()
	switch t.Level {
	case LevelWarning:
		ev = n.Log.Warn()
	case LevelError:
		ev = n.Log.Error()
	}
	ev.Str("toast", t.Message).Msg("notification")
}

// HubNotifier publishes toasts to websocket subscribers of ToastTopic.
type HubNotifier struct {
	Publisher websocket.EventPublisher
	Log       zerolog.Logger
}

func (n HubNotifier) Notify(t Toast) {
	data, err := json.Marshal(t)
	if err != nil {
		n.Log.Error().Err(err).Msg("encode toast")
		return
	}
	ev := websocket.Event{
		Type:      "toast",
		Topic:     ToastTopic,
		Timestamp: t.Time,
		Data:      data,
	}
	if err := n.Publisher.Publish(context.Background(), ev); err != nil {
		n.Log.Warn().Err(err).Msg("publish toast")
	}
}

func (c *Coordinator) toast(level Level, msg string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(Toast{Level: level, Message: msg, Time: c.now()})
}
