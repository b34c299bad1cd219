// Package ports defines the infrastructure interfaces the runtime depends
// on. Implementations live in adapters/.
package ports

import (
	"time"
)

// Clock abstracts time so handler timeouts can be driven by tests.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f on its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call. Returns false if it already ran or was stopped.
	Stop() bool
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}
