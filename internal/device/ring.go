package device

import (
	"sync"

	"github.com/ehrlich-b/go-fdpstat/internal/uring"
)

// trackedRing reports its first successful Close back to the device so the
// device can refuse to close under live rings.
type trackedRing struct {
	uring.Ring
	once    sync.Once
	release func()
}

func (r *trackedRing) Close() error {
	if err := r.Ring.Close(); err != nil {
		return err
	}
	r.once.Do(r.release)
	return nil
}
