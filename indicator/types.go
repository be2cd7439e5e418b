package indicator

// ScanInfo describes the outcome of a scan for display purposes.
type ScanInfo struct {
	StudentID   string
	StudentName string
	Reason      string
}
