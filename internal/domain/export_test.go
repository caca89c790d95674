package domain

// OnPool registers a hook called with the pool of every run.
func (h *Harness) OnPool(fn func(*WorkerPool)) {
	h.onPool = fn
}
