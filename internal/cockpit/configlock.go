package cockpit

import "time"

// ConfigLock is the bounded-wait mutex spec §4.13 describes between
// the Cockpit admin channel and an lvc.Reader: the Cockpit holds it
// while an ADD/DEL/REFRESH causes the peer LVC writer to add or
// remove slots, so a reader's ViewAll_safe/SnapAll_safe doesn't
// observe a table mid-resize. Unlike the LVC reader's own per-slot
// sequence lock (internal/lvc's optimistic retry), this one really
// blocks — but only up to a documented ceiling, so a stuck admin peer
// can never stall readers indefinitely.
type ConfigLock struct {
	ch chan struct{}
}

// NewConfigLock returns an unlocked ConfigLock.
func NewConfigLock() *ConfigLock {
	l := &ConfigLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Lock blocks up to timeout to acquire the lock, returning false if
// it timed out. Callers MUST call Unlock only if Lock returned true.
func (l *ConfigLock) Lock(timeout time.Duration) bool {
	select {
	case <-l.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Unlock releases a lock previously acquired by Lock.
func (l *ConfigLock) Unlock() {
	l.ch <- struct{}{}
}
