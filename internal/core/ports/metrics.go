package ports

import (
	"time"

	"acqbridge/internal/core/domain"
)

// AcquisitionMetrics receives counters from the acquisition pipeline.
type AcquisitionMetrics interface {
	RecordBatch(batch domain.SyncedBatch, elapsed time.Duration)
	RecordImageInserted(channel int, bytes int)
	RecordOverflow()
	RecordTimeout(stream int)
	RecordSessionState(state domain.SessionState)
	RecordSnap(success bool)
	RecordRun(kind domain.RunKind, status domain.RunStatus)
	RecordLiveViewClients(n int)
}
