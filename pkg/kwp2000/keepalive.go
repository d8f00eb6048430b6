package kwp2000

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const DefaultKeepAliveInterval = 2 * time.Second

// StartKeepAlive sends TesterPresent on a fixed cadence until the
// returned stop function is called. Failures are reported and the loop
// keeps going; the ECU drops the session on its own if the gap grows
// too long.
func (c *Client) StartKeepAlive(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := c.TesterPresent(ctx); err != nil {
					c.message(fmt.Sprintf("TesterPresent failed: %v", err))
				}
				cancel()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			<-done
		})
	}
}
