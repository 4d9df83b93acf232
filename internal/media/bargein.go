package media

import (
	"time"

	"github.com/ivrcore/mediacore/pkg/types"
)

// scheduleBargeIn is schedule_barge_in: the recognizer callback's entry
// point into the main scheduler. It must return in microseconds, so it does
// nothing but check current state and, if a barge-in is even possible,
// fire off handleBargeIn on its own goroutine.
func (c *Connection) scheduleBargeIn(partial types.Transcript) {
	if partial.Text == "" {
		return
	}
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	if st != StateSpeaking && st != StateTurning {
		return
	}
	go c.handleBargeIn()
}

// handleBargeIn implements the eight-step barge-in algorithm from the
// component design. It snapshots the in-flight synthesis and turn handles,
// sends the stop-audio frame before touching any local cancellation so the
// far end stops playout even if local teardown is slow, cancels both
// handles, and raises epochFloor so the egress lane drains anything already
// queued for the cancelled turn.
func (c *Connection) handleBargeIn() {
	c.mu.Lock()
	if c.state != StateSpeaking && c.state != StateTurning {
		c.mu.Unlock()
		return
	}
	c.state = StateBargingIn
	speaking := c.speaking
	current := c.current
	c.mu.Unlock()

	select {
	case c.egress <- egressFrame{kind: egressStop}:
	case <-time.After(c.cfg.BargeInStopTimeout):
		c.log.Warn("barge-in: stop-audio enqueue exceeded BargeInStopTimeout")
	}

	var floor uint64
	if speaking != nil {
		speaking.cancel()
		floor = speaking.epoch
	}
	if current != nil && current != speaking {
		current.cancel()
		if current.epoch > floor {
			floor = current.epoch
		}
	}
	if floor > 0 {
		for {
			prev := c.epochFloor.Load()
			if floor <= prev {
				break
			}
			if c.epochFloor.CompareAndSwap(prev, floor) {
				break
			}
		}
	}

	c.mu.Lock()
	c.state = StateListening
	c.speaking = nil
	c.mu.Unlock()
}
