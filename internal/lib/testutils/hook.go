package testutils

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// SimpleLogrusHook is a hook that records every entry logged at one of its
// configured levels, so a test can assert on log content without parsing
// formatted output.
type SimpleLogrusHook struct {
	mutex        sync.Mutex
	HookedLevels []logrus.Level
	Messages     []*logrus.Entry
}

// NewLogHook returns a hook for the given levels. With no levels given it
// hooks every level logrus defines.
func NewLogHook(levels ...logrus.Level) *SimpleLogrusHook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &SimpleLogrusHook{HookedLevels: levels}
}

// Levels implements logrus.Hook.
func (h *SimpleLogrusHook) Levels() []logrus.Level {
	return h.HookedLevels
}

// Fire implements logrus.Hook.
func (h *SimpleLogrusHook) Fire(entry *logrus.Entry) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.Messages = append(h.Messages, entry)
	return nil
}

// Drain returns and clears the recorded entries.
func (h *SimpleLogrusHook) Drain() []*logrus.Entry {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	msgs := h.Messages
	h.Messages = nil
	return msgs
}

// Contains reports whether any recorded entry's message contains substr.
func (h *SimpleLogrusHook) Contains(substr string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, entry := range h.Messages {
		if entry != nil && strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}
