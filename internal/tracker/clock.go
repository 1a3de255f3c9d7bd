package tracker

import (
	"time"

	"k8s.io/utils/clock"
)

// Clock is the subset of k8s.io/utils/clock the tracker needs.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

var _ Clock = clock.RealClock{}
