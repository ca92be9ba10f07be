package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an in-memory PauseView toggled by operators.
type PauseSet struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauseSet returns a PauseSet with the supplied modules paused.
func NewPauseSet(paused ...string) *PauseSet {
	set := &PauseSet{modules: make(map[string]bool)}
	for _, module := range paused {
		set.Pause(module)
	}
	return set
}

// Pause halts the named module.
func (p *PauseSet) Pause(module string) {
	p.set(module, true)
}

// Resume re-enables the named module.
func (p *PauseSet) Resume(module string) {
	p.set(module, false)
}

func (p *PauseSet) set(module string, paused bool) {
	if p == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modules == nil {
		p.modules = make(map[string]bool)
	}
	if paused {
		p.modules[key] = true
		return
	}
	delete(p.modules, key)
}

// IsPaused implements PauseView.
func (p *PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[strings.ToLower(strings.TrimSpace(module))]
}
