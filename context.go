package livemigrate

import "github.com/graftwork/livemigrate/pkg/plan"

// MigrationContext is the per-run record created at engine entry and
// destroyed at engine exit. It is exposed to PhaseListener hooks so the
// application can correlate its own bookkeeping with a specific run.
type MigrationContext struct {
	Plan           *plan.Plan
	MigrationID    string
	StartedAtNanos int64
}
