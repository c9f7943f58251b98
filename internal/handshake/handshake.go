// Package handshake sequences "login completed" with "safe to navigate".
//
// After a login the session token is written by the auth state observer on its
// own schedule, so the page that hosted the login form waits a short fixed
// delay before navigating. The delay is a heuristic: nothing confirms that the
// write is visible to the next request.
package handshake

import (
	"sync"
	"time"
)

// Stopper cancels a scheduled function. *time.Timer implements it.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

type state int

const (
	idle state = iota
	scheduled
	navigated
	cancelled
)

// Handshake is a single-shot navigation scheduled on login completion and
// cancelled on unmount
type Handshake struct {
	delay     time.Duration
	navigate  func(target string)
	afterFunc AfterFunc

	mu     sync.Mutex
	state  state
	target string
	timer  Stopper
	done   chan struct{}
}

// Option configures a Handshake
type Option func(*Handshake)

// WithAfterFunc replaces the timer source
func WithAfterFunc(fn AfterFunc) Option {
	return func(h *Handshake) {
		h.afterFunc = fn
	}
}

// New creates a handshake that calls navigate delay after completion
func New(delay time.Duration, navigate func(target string), opts ...Option) *Handshake {
	h := &Handshake{
		delay:     delay,
		navigate:  navigate,
		afterFunc: realAfterFunc,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Complete schedules navigation to target. Only the first call counts; it
// returns false if the handshake already completed or was unmounted.
func (h *Handshake) Complete(target string) bool {
	h.mu.Lock()
	if h.state != idle {
		h.mu.Unlock()
		return false
	}
	h.state = scheduled
	h.target = target
	h.mu.Unlock()

	// afterFunc may run fire before returning
	timer := h.afterFunc(h.delay, h.fire)

	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case scheduled:
		h.timer = timer
	case cancelled:
		timer.Stop()
	}
	return true
}

// Unmount cancels a pending navigation. It returns true if a scheduled
// navigation was cancelled.
func (h *Handshake) Unmount() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case idle:
		h.state = cancelled
		close(h.done)
		return false
	case scheduled:
		h.state = cancelled
		if h.timer != nil {
			h.timer.Stop()
		}
		close(h.done)
		return true
	default:
		return false
	}
}

// Done is closed once the handshake navigated or was unmounted
func (h *Handshake) Done() <-chan struct{} {
	return h.done
}

// Navigated reports whether the navigation ran
func (h *Handshake) Navigated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == navigated
}

func (h *Handshake) fire() {
	h.mu.Lock()
	if h.state != scheduled {
		// Unmounted between the timer firing and this call
		h.mu.Unlock()
		return
	}
	h.state = navigated
	target := h.target
	h.mu.Unlock()

	h.navigate(target)
	close(h.done)
}
