//go:build !linux

package container

// SweepOrphans only does work on linux; elsewhere there is nothing to
// reap.
func (e *Engine) SweepOrphans() {}
