package engine

// Fatalf implements spec.md §7's fatal-error policy: log a structured
// error event (PE number already attached to every event by rtlog.New),
// then invoke the abort hook, which defaults to os.Exit(1) — modeling
// OpenSHMEM's shmem_global_exit rather than a bare Go panic, so library
// code never unwinds the caller's stack on these paths. Tests substitute a
// non-exiting hook via SetFatalHook to observe the path without killing the
// test process.
func (e *Engine) Fatalf(format string, args ...any) {
	e.log.Err().Logf(format, args...)

	e.mu.Lock()
	hook := e.fatalHook
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// SetFatalHook overrides the action Fatalf takes after logging. Passing nil
// makes Fatalf a logging-only no-op (used by tests).
func (e *Engine) SetFatalHook(hook func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fatalHook = hook
}
