package posture

import "errors"

var (
	// ErrRecordNotFound is returned by a FindingStore when no record exists
	// under the requested key.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidRecord flags a finding or status record that fails boundary
	// validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNotReady is returned when aggregation is requested before every
	// resource unit has written its completion marker.
	ErrNotReady = errors.New("job is not ready to aggregate")

	// ErrNoResources is returned when scope resolution yields zero resource
	// units; nothing is dispatched and the job is marked failed.
	ErrNoResources = errors.New("scope resolved to no resource units")

	// ErrInvalidTransition flags a job phase transition outside the allowed
	// lifecycle.
	ErrInvalidTransition = errors.New("invalid phase transition")
)
