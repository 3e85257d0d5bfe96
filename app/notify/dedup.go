package notify

import (
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// deDup remembers recently sent events to suppress repeats within the window.
// A nil deDup lets everything through.
type deDup struct {
	lock sync.Mutex
	sent cache.Cache[string, struct{}]
}

func newDeDup(window time.Duration) *deDup {
	if window <= 0 {
		return nil
	}
	return &deDup{sent: cache.NewCache[string, struct{}]().WithTTL(window).WithMaxKeys(1000)}
}

// Add registers the event, returns false if the same event was registered within the window
func (d *deDup) Add(event string) bool {
	if d == nil {
		return true
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, found := d.sent.Get(event); found {
		return false
	}
	d.sent.Set(event, struct{}{}, 0)
	return true
}
