package caen

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// AutoRefresh requests a refresh of the readbacks every interval until ctx is
// done.  Ticks that find the digitizer not open, armed, or still refreshing
// are skipped.
func (d *Digitizer) AutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		d.params.Lock()
		if d.openState == Opened && !d.armed && !d.refresh.busy {
			if err := d.handleRequest(&d.refresh); err != nil {
				d.log.Printf("AutoRefresh: %v", err)
			}
			d.params.Notify()
		}
		d.params.Unlock()
	}
}
