package indicator

// Multi combines multiple Indicator implementations.
type Multi struct {
	indicators []Indicator
}

func NewMulti(indicators ...Indicator) *Multi {
	return &Multi{indicators: indicators}
}

// Ready implements Indicator.Ready.
func (m *Multi) Ready() {
	for _, ind := range m.indicators {
		ind.Ready()
	}
}

// CheckedIn implements Indicator.CheckedIn.
func (m *Multi) CheckedIn(info *ScanInfo) {
	for _, ind := range m.indicators {
		ind.CheckedIn(info)
	}
}

// Rejected implements Indicator.Rejected.
func (m *Multi) Rejected(info *ScanInfo) {
	for _, ind := range m.indicators {
		ind.Rejected(info)
	}
}

// ConnectionLost implements Indicator.ConnectionLost.
func (m *Multi) ConnectionLost() {
	for _, ind := range m.indicators {
		ind.ConnectionLost()
	}
}

// Shutdown implements Indicator.Shutdown.
func (m *Multi) Shutdown() {
	for _, ind := range m.indicators {
		ind.Shutdown()
	}
}

// Release implements Indicator.Release. Every indicator is released; the last
// error is returned.
func (m *Multi) Release() error {
	var lastErr error
	for _, ind := range m.indicators {
		if err := ind.Release(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
