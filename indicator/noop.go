package indicator

// Noop implements Indicator but does nothing.
// Used when no indicators are configured.
type Noop struct{}

func (n *Noop) Ready()                   {}
func (n *Noop) CheckedIn(info *ScanInfo) {}
func (n *Noop) Rejected(info *ScanInfo)  {}
func (n *Noop) ConnectionLost()          {}
func (n *Noop) Shutdown()                {}
func (n *Noop) Release() error           { return nil }
