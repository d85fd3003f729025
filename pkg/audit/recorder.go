// Package audit provides the append-only audit trail for
// authorization-relevant events: grants, revocations, package
// registrations, and access requests.
//
// Audit writes must never abort the operation that triggered them; the
// engine logs and discards recorder failures.
package audit

import (
	"context"
)

// Recorder is the interface for writing and querying audit entries.
type Recorder interface {
	// Record appends a single entry.
	Record(ctx context.Context, entry *Entry) error

	// Search returns entries matching the filter, newest first.
	Search(ctx context.Context, filter SearchFilter) ([]Entry, error)

	// CountByAction returns per-action entry counts matching the filter.
	CountByAction(ctx context.Context, filter SearchFilter) (map[Action]int64, error)

	// Close flushes and releases any resources held by the recorder.
	Close() error
}

// NopRecorder discards everything; used when auditing is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, entry *Entry) error {
	return nil
}

func (NopRecorder) Search(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	return nil, nil
}

func (NopRecorder) CountByAction(ctx context.Context, filter SearchFilter) (map[Action]int64, error) {
	return map[Action]int64{}, nil
}

func (NopRecorder) Close() error {
	return nil
}
