package media

import (
	"context"
	"errors"
	"time"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/types"
)

// turnLoop is the turn lane: a single-consumer loop popping turn_queue and
// running the Orchestrator for each final. It blocks only on the queue pop
// and on the Orchestrator call, and holds at most one active turn task —
// the next pop does not happen until runTurn returns.
func (c *Connection) turnLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-c.turnQueue:
			if !ok {
				return
			}
			c.runTurn(ctx, item)
		}
	}
}

func (c *Connection) runTurn(parent context.Context, item finalTranscript) {
	turnCtx, cancel := context.WithTimeout(parent, c.cfg.TurnDeadline)
	defer cancel()

	handle := &turnHandle{epoch: item.epoch, ctx: turnCtx, cancel: cancel}

	c.mu.Lock()
	c.state = StateTurning
	c.current = handle
	c.mu.Unlock()

	c.mem.History = append(c.mem.History, corestate.HistoryEntry{
		AgentName: c.mem.ActiveAgent,
		Role:      corestate.RoleUser,
		Content:   item.text,
		Timestamp: time.Now(),
	})

	sink := &epochSink{conn: c, handle: handle}
	utterance := types.Transcript{Text: item.text, IsFinal: true}

	_, err := c.orch.HandleTurn(turnCtx, c.mem, utterance, sink, c.isProviderCall)

	c.mu.Lock()
	cancelled := handle.ctx.Err() != nil
	if c.current == handle {
		c.current = nil
	}
	if cancelled {
		// handleBargeIn already moved state to Listening; leave it alone
		// unless nothing since claimed Turning for a newer epoch.
		if c.state == StateTurning {
			c.state = StateListening
		}
	} else if c.state == StateTurning {
		// No audio was enqueued for this turn (e.g. the handler produced no
		// AssistantText and no Speaker call fired); go straight to Idle
		// rather than waiting on an egress "done" that will never arrive.
		if c.speaking == nil || c.speaking.epoch != item.epoch {
			c.state = StateIdle
		}
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("orchestrator turn failed", "err", err, "epoch", item.epoch)
		c.mem.Context["last_error"] = err.Error()
	}

	if perr := c.store.Save(parent, c.mem, c.cfg.SessionTTL); perr != nil {
		c.log.Warn("session store save failed after turn", "err", perr)
	}
}

// epochSink implements agent.AudioSink for one turn, tagging every frame
// with the turn's epoch so the egress lane can discard stale audio after a
// barge-in cancels an earlier turn.
type epochSink struct {
	conn   *Connection
	handle *turnHandle
}

var _ agent.AudioSink = (*epochSink)(nil)

func (s *epochSink) Enqueue(frames <-chan []byte) {
	s.conn.mu.Lock()
	s.conn.state = StateSpeaking
	s.conn.speaking = s.handle
	s.conn.mu.Unlock()

	go func() {
		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					select {
					case s.conn.egress <- egressFrame{epoch: s.handle.epoch, kind: egressDone}:
					case <-s.handle.ctx.Done():
					}
					return
				}
				select {
				case s.conn.egress <- egressFrame{epoch: s.handle.epoch, kind: egressAudio, audio: frame}:
				case <-s.handle.ctx.Done():
					return
				}
			case <-s.handle.ctx.Done():
				return
			}
		}
	}()
}
