package queue

import "fmt"

// CapacityError is raised when an install would overflow the ring
// buffer. This is a fatal configuration error (the buffer must be
// sized to the workload's maximum in-flight items), not an ordinary
// abort/retry conflict, so it is panicked rather than returned.
type CapacityError struct {
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("queue: install would exceed ring capacity %d", e.Capacity)
}
