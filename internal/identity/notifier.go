package identity

import "sync"

// Notifier fans sign-in state changes out to listeners. Deliveries run on a
// single goroutine at a time and in publish order. A new subscriber first
// receives the current state once it is known.
type Notifier struct {
	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextID  uint64
	current *User
	known   bool
	queue   []delivery
	running bool
	idle    chan struct{}
}

type subscription struct {
	listener Listener
	mu       sync.Mutex
	active   bool
}

// delivery carries its recipients, fixed when it is queued
type delivery struct {
	user    *User
	targets []*subscription
}

// NewNotifier creates a notifier with an unknown initial state
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a listener. The returned function removes it; a
// delivery that already started may still complete.
func (n *Notifier) Subscribe(listener Listener) func() {
	sub := &subscription{listener: listener, active: true}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = sub
	if n.known {
		n.enqueueLocked(delivery{user: n.current, targets: []*subscription{sub}})
	}
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()

			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		})
	}
}

// Publish records user as the current state and notifies every subscriber.
// Publishing the state that is already current is a no-op.
func (n *Notifier) Publish(user *User) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.known && SameUser(n.current, user) {
		return
	}
	n.current = user
	n.known = true
	targets := make([]*subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		targets = append(targets, sub)
	}
	n.enqueueLocked(delivery{user: user, targets: targets})
}

// Current returns the last published state and whether one was published
func (n *Notifier) Current() (*User, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current, n.known
}

// Idle returns a channel closed once every queued delivery has run
func (n *Notifier) Idle() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if n.idle == nil {
		n.idle = make(chan struct{})
	}
	return n.idle
}

func (n *Notifier) enqueueLocked(d delivery) {
	n.queue = append(n.queue, d)
	if !n.running {
		n.running = true
		go n.drain()
	}
}

func (n *Notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.running = false
			if n.idle != nil {
				close(n.idle)
				n.idle = nil
			}
			n.mu.Unlock()
			return
		}
		d := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()

		for _, sub := range d.targets {
			sub.deliver(d.user)
		}
	}
}

func (s *subscription) deliver(user *User) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active {
		s.listener(user)
	}
}
