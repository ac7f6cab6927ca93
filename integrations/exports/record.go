package exports

// Record is one reward row flattened for export. Owner carries the bech32
// form so exports match what the RPC surface reports.
type Record struct {
	ID         uint64
	Owner      string
	Points     uint64
	Burned     bool
	Annotation string
}

func status(burned bool) string {
	if burned {
		return "burned"
	}
	return "active"
}
