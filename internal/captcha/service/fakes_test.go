package service

import (
	"context"
	"sync"
	"time"

	"joingate/internal/captcha/models"
	"joingate/internal/captcha/timer"
)

// manualScheduler arms actions without real timers. Fire runs the pending
// action for a key the way the registry would.
type manualScheduler struct {
	mu      sync.Mutex
	pending map[string]scheduled
	armed   []scheduled
}

type scheduled struct {
	key    string
	delay  time.Duration
	action func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[string]scheduled)}
}

func (m *manualScheduler) Schedule(key string, delay time.Duration, action func()) timer.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := scheduled{key: key, delay: delay, action: action}
	m.pending[key] = s
	m.armed = append(m.armed, s)
	return timer.Handle{}
}

func (m *manualScheduler) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	delete(m.pending, key)
	return ok
}

// Fire claims and runs the pending action for key. It reports whether one ran.
func (m *manualScheduler) Fire(key string) bool {
	m.mu.Lock()
	s, ok := m.pending[key]
	delete(m.pending, key)
	m.mu.Unlock()
	if ok {
		s.action()
	}
	return ok
}

// Last returns the most recently armed action for key, pending or not.
func (m *manualScheduler) Last(key string) (scheduled, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.armed) - 1; i >= 0; i-- {
		if m.armed[i].key == key {
			return m.armed[i], true
		}
	}
	return scheduled{}, false
}

func (m *manualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// recordingPlatform is a thread-safe Notifier and Enforcer for race tests.
type recordingPlatform struct {
	mu      sync.Mutex
	sent    []models.Message
	removed []models.SubjectID
	deleted []string
}

func (p *recordingPlatform) Send(_ context.Context, _ models.GroupID, msg models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingPlatform) RemoveMember(_ context.Context, _ models.GroupID, subject models.SubjectID, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, subject)
	return nil
}

func (p *recordingPlatform) DeleteMessage(_ context.Context, _ models.GroupID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, messageID)
	return nil
}

func (p *recordingPlatform) removals() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.removed)
}

func (p *recordingPlatform) messages() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Message(nil), p.sent...)
}
