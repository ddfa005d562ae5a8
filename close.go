package arengo

// Close shuts the runtime down: background workers stop, the root arena
// and everything under it is destroyed, cleanup callbacks run, and all
// backing blocks are unmapped. Close is idempotent; every handle is stale
// afterwards.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	if rt.closed.Swap(true) {
		return nil
	}

	rt.compactor.Stop()

	rt.root.inner.Destroy()

	rt.cleaner.Flush()
	rt.cleaner.Stop()

	rt.logger.Debug("runtime closed")
	return nil
}
