package ledger

import (
	"context"
	"time"
)

// Progress maps item identity keys to their completion time. Once a key is
// marked done it is never reprocessed unless the ledger is explicitly reset.
type Progress map[string]time.Time

// IsDone 纯内存查询，不做 I/O
func (p Progress) IsDone(key string) bool {
	_, ok := p[key]
	return ok
}

// Ledger is the durable record of completed item identities. It is the
// single source of truth for resumability: MarkDone must persist the record
// before returning, so a crash mid-chunk loses at most the in-flight item.
type Ledger interface {
	// Load reads the persisted progress. A missing backing store yields an
	// empty Progress; an unparsable one yields models.ErrLedgerCorrupt.
	Load(ctx context.Context) (Progress, error)

	// MarkDone updates progress in memory and synchronously appends one
	// durable record.
	MarkDone(ctx context.Context, progress Progress, key string) error

	Close() error
}
