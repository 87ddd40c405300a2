package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauses is a fixed pause table keyed by module name, typically loaded
// from configuration. Keys are matched case-insensitively.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (p StaticPauses) IsPaused(module string) bool {
	if p[module] {
		return true
	}
	for name, paused := range p {
		if paused && strings.EqualFold(name, module) {
			return true
		}
	}
	return false
}

// Guard rejects mutations against a paused module. The returned error names
// the module and wraps ErrModulePaused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%s: %w", module, ErrModulePaused)
	}
	return nil
}
