// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logger

// Records log messages in memory so tests can assert on them. logrus has no
// hook removal, so a hook is silenced with Close instead.

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type MemoryLogHook struct {
	messagesLock sync.Mutex
	messages     []MemoryLogMessage
	closed       bool
}

type MemoryLogMessage struct {
	Message string
	Level   logrus.Level
}

func NewMemoryLogHook() *MemoryLogHook {
	return &MemoryLogHook{}
}

func (h *MemoryLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *MemoryLogHook) Fire(entry *logrus.Entry) error {
	h.messagesLock.Lock()
	defer h.messagesLock.Unlock()

	if h.closed {
		return nil
	}

	h.messages = append(h.messages, MemoryLogMessage{
		Message: entry.Message,
		Level:   entry.Level,
	})
	return nil
}

// ConsumeMessages returns the recorded messages and clears the buffer.
func (h *MemoryLogHook) ConsumeMessages() []MemoryLogMessage {
	h.messagesLock.Lock()
	defer h.messagesLock.Unlock()

	messages := h.messages
	h.messages = nil
	return messages
}

// Close stops the hook from recording further messages.
func (h *MemoryLogHook) Close() {
	h.messagesLock.Lock()
	defer h.messagesLock.Unlock()

	h.closed = true
	h.messages = nil
}
