package engine

// Reporter receives progress as it happens. Calls are made from the
// goroutine running the engine.
type Reporter interface {
	// Phase announces a step of initialization or of a batch.
	Phase(name string)
	// Item reports that n of total items of action are done.
	Item(action string, n, total int)
	Warn(msg string)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) Phase(string)          {}
func (NopReporter) Item(string, int, int) {}
func (NopReporter) Warn(string)           {}
