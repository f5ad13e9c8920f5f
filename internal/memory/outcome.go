package memory

// Status is the result class of a write.
type Status string

const (
	// StatusOK means the record was persisted as requested.
	StatusOK Status = "ok"
	// StatusDegraded means the record was persisted with a missing or
	// stale embedding.
	StatusDegraded Status = "degraded"
	// StatusFailed means the store rejected the write. The returned record
	// is what would have been stored.
	StatusFailed Status = "failed"
)

// WriteOutcome reports how a best-effort write went.
type WriteOutcome struct {
	Status   Status
	Warnings []string
}

func okOutcome() WriteOutcome { return WriteOutcome{Status: StatusOK} }

func (o WriteOutcome) degrade(warning string) WriteOutcome {
	if o.Status == StatusOK {
		o.Status = StatusDegraded
	}
	o.Warnings = append(o.Warnings, warning)
	return o
}

func (o WriteOutcome) fail(warning string) WriteOutcome {
	o.Status = StatusFailed
	o.Warnings = append(o.Warnings, warning)
	return o
}

// OK reports whether the write fully succeeded.
func (o WriteOutcome) OK() bool { return o.Status == StatusOK }
