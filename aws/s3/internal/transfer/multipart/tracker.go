package multipart

import (
	"sync"

	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
)

// syncTracker serializes calls to a ProgressTracker that is shared by
// concurrent part uploads. A nil tracker is a no-op.
type syncTracker struct {
	mu      sync.Mutex
	tracker s3types.ProgressTracker
}

func newSyncTracker(tracker s3types.ProgressTracker) *syncTracker {
	return &syncTracker{tracker: tracker}
}

func (t *syncTracker) Update(bytesTransferred, totalBytes int64) {
	if t.tracker == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracker.Update(bytesTransferred, totalBytes)
}

func (t *syncTracker) Complete() {
	if t.tracker == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracker.Complete()
}

func (t *syncTracker) Error(err error) {
	if t.tracker == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracker.Error(err)
}
