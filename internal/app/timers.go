package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type timerEntry struct {
	t *time.Timer
}

// Timers is a keyed set of one-shot timers.
// Arming a key always supersedes the timer already armed for it.
type Timers struct {
	mu     sync.Mutex
	timers map[string]*timerEntry
	closed bool
	wg     sync.WaitGroup
}

func NewTimers() *Timers {
	return &Timers{timers: make(map[string]*timerEntry)}
}

// Arm schedules fn to run after d under key, cancelling any timer already
// armed for key. It returns false once the set has been stopped.
func (t *Timers) Arm(key string, d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if old, ok := t.timers[key]; ok {
		log.Debug().Str("module", "app.timers").Str("key", key).Msg("replacing armed timer")
		t.stopLocked(old)
	}
	e := &timerEntry{}
	t.wg.Add(1)
	e.t = time.AfterFunc(d, func() { t.fire(key, e, fn) })
	t.timers[key] = e
	return true
}

func (t *Timers) fire(key string, e *timerEntry, fn func()) {
	defer t.wg.Done()

	t.mu.Lock()
	cur, ok := t.timers[key]
	if !ok || cur != e || t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	fn()
}

// stopLocked stops e; the WaitGroup slot is released here only if the
// callback will never run, otherwise fire releases it.
func (t *Timers) stopLocked(e *timerEntry) {
	if e.t.Stop() {
		t.wg.Done()
	}
}

// Cancel disarms the timer for key and reports whether one was armed.
func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.timers[key]
	if !ok {
		return false
	}
	delete(t.timers, key)
	t.stopLocked(e)
	return true
}

func (t *Timers) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}

func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every armed timer and waits for callbacks already running.
// Arm is a no-op afterwards.
func (t *Timers) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	n := len(t.timers)
	for key, e := range t.timers {
		t.stopLocked(e)
		delete(t.timers, key)
	}
	t.mu.Unlock()

	t.wg.Wait()
	log.Info().Str("module", "app.timers").Int("cancelled", n).Msg("timers stopped")
}
