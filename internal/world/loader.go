package world

import (
	"fmt"
	"sync"
)

// ErrUnknownScene is returned when a load is requested for a scene name the
// loader doesn't know about.
var ErrUnknownScene = fmt.Errorf("unknown scene")

// ReadySubscriber is invoked once a requested scene has finished loading.
type ReadySubscriber func(name string)

// Loader resolves named scenes against a fixed set and reports readiness.
// Loading is split into a request and an explicit Complete step so callers
// (and tests) control when the ready signal fires relative to other events.
type Loader struct {
	mu          sync.Mutex
	known       map[string]bool
	pending     string
	subscribers []ReadySubscriber
}

func NewLoader(scenes []string) *Loader {
	known := make(map[string]bool, len(scenes))
	for _, name := range scenes {
		known[name] = true
	}
	return &Loader{known: known}
}

// OnSceneReady registers a subscriber invoked when a pending load completes.
func (l *Loader) OnSceneReady(s ReadySubscriber) {
	l.mu.Lock()
	l.subscribers = append(l.subscribers, s)
	l.mu.Unlock()
}

// LoadScene begins loading the named scene. A load already in progress is
// replaced; the old one never reports ready.
func (l *Loader) LoadScene(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.known[name] {
		return fmt.Errorf("%w: %s", ErrUnknownScene, name)
	}
	l.pending = name
	return nil
}

// Pending returns the scene currently loading, empty if none.
func (l *Loader) Pending() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Complete finishes the pending load and fires the ready signal.
func (l *Loader) Complete() {
	l.mu.Lock()
	name := l.pending
	l.pending = ""
	subscribers := l.subscribers
	l.mu.Unlock()

	if name == "" {
		return
	}
	for _, s := range subscribers {
		s(name)
	}
}
