package authstate

import (
	"context"
	"sync"
)

// watcher buffers snapshots for one Snapshots consumer so broadcasting never
// blocks the notification path.
type watcher struct {
	mu     sync.Mutex
	queue  []AuthState
	done   bool
	signal chan struct{}
}

func newWatcher() *watcher {
	return &watcher{signal: make(chan struct{}, 1)}
}

func (w *watcher) push(state AuthState) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, state)
	w.mu.Unlock()
	w.wake()
}

func (w *watcher) close() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
	w.wake()
}

func (w *watcher) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// next blocks until a snapshot is queued, the watcher is closed or ctx ends
func (w *watcher) next(ctx context.Context) (AuthState, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			state := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return state, true
		}
		if w.done {
			w.mu.Unlock()
			return AuthState{}, false
		}
		w.mu.Unlock()

		select {
		case <-w.signal:
		case <-ctx.Done():
			return AuthState{}, false
		}
	}
}

func (o *Observer) watch() (*watcher, AuthState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, o.state, false
	}
	w := newWatcher()
	o.watchers[w] = struct{}{}
	return w, o.state, true
}

func (o *Observer) unwatch(w *watcher) {
	o.mu.Lock()
	if o.watchers != nil {
		delete(o.watchers, w)
	}
	o.mu.Unlock()
	w.close()
}

func (o *Observer) broadcastLocked() {
	for w := range o.watchers {
		w.push(o.state)
	}
}
