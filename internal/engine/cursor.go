package engine

import "time"

// Cursor and activity state is engine-owned and keyed by group ID. A group's
// epoch changes whenever its cursor is reset (create, replace, delete) so a
// tick that resolved against the old group cannot write a stale cursor back.

// stampGroup checks the cooldown and, if it has elapsed, records now as the
// group's last trigger. It returns the cursor to resolve with.
func (e *Engine) stampGroup(id string, epoch uint64, now time.Time, interval time.Duration) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.groups[id]
	if !ok || !g.Enabled || e.epochs[id] != epoch {
		return 0, false
	}
	if now.Sub(e.activity[id]) < interval {
		return 0, false
	}
	e.activity[id] = now
	return e.cursors[id], true
}

func (e *Engine) advanceCursor(id string, epoch uint64, next int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.groups[id]; !ok || e.epochs[id] != epoch {
		return
	}
	e.cursors[id] = next
}

// resetCursorLocked drops the cursor and moves the group to a new epoch.
// Callers hold e.mu.
func (e *Engine) resetCursorLocked(id string) {
	delete(e.cursors, id)
	e.epochs[id]++
}

// forgetGroupLocked discards all derived state of a deleted group. The epoch
// is kept bumped rather than deleted so an in-flight tick cannot match it.
func (e *Engine) forgetGroupLocked(id string) {
	e.resetCursorLocked(id)
	delete(e.activity, id)
}

// Cursor reports the group's current cursor, for inspection and tests.
func (e *Engine) Cursor(id string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.groups[id]; !ok {
		return 0, false
	}
	return e.cursors[id], true
}

// LastTriggered reports when the group last fired.
func (e *Engine) LastTriggered(id string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.activity[id]
	return t, ok
}
