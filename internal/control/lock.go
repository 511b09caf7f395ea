package control

import "time"

// Lock is a mutex that can give up after a timeout
type Lock struct {
	ch chan struct{}
}

// NewLock creates an unlocked Lock
func NewLock() *Lock {
	return &Lock{ch: make(chan struct{}, 1)}
}

// TryAcquire takes the lock, waiting at most timeout. It reports whether
// the lock was taken.
func (l *Lock) TryAcquire(timeout time.Duration) bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Release unlocks the lock. Releasing an unlocked Lock panics, as with
// sync.Mutex.
func (l *Lock) Release() {
	select {
	case <-l.ch:
	default:
		panic("control: release of unlocked Lock")
	}
}
