package shared

import (
	"fmt"
	"sync/atomic"
	"time"
)

var docSeq atomic.Uint64

// DocumentNumber builds a document number like GRN-20260828-1756398000123456789-7.
// The full nanosecond timestamp is suffixed with a process-wide sequence, so
// rapid successive calls stay distinct even when the clock resolution groups
// them into the same reading. Numbers carry a UNIQUE constraint in the store.
func DocumentNumber(prefix string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s-%s-%d-%d", prefix, now.Format("20060102"), now.UnixNano(), docSeq.Add(1))
}
