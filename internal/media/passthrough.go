package media

import (
	"context"
	"fmt"
	"time"

	"github.com/ivrcore/mediacore/pkg/corestate"
	"github.com/ivrcore/mediacore/pkg/memory"
	"github.com/ivrcore/mediacore/pkg/provider/s2s"
	"github.com/ivrcore/mediacore/pkg/provider/vad"
)

// setupPassthrough connects the external realtime voice service and, if a
// VAD engine was supplied, opens a local detection session over the raw
// ingress audio. PASSTHROUGH has no discrete turns, so it claims a single
// epoch up front and only re-draws a new one after a local barge-in.
func (c *Connection) setupPassthrough(ctx context.Context) error {
	if c.s2sProvider == nil {
		return fmt.Errorf("media: passthrough variant requires an s2s.Provider")
	}

	sess, err := c.s2sProvider.Connect(ctx, s2s.SessionConfig{
		Voice:        c.cfg.PassthroughVoice,
		Instructions: c.cfg.PassthroughInstructions,
	})
	if err != nil {
		return fmt.Errorf("media: connect s2s session: %w", err)
	}
	c.s2sSession = sess
	c.passEpoch.Store(c.nextEpoch.Add(1))

	if c.vadEngine != nil {
		vs, err := c.vadEngine.NewSession(vad.Config{
			SampleRate:       c.cfg.SampleRate,
			FrameSizeMs:      c.cfg.VADFrameSizeMs,
			SpeechThreshold:  c.cfg.VADSpeechThreshold,
			SilenceThreshold: c.cfg.VADSilenceThreshold,
		})
		if err != nil {
			c.log.Warn("vad session unavailable, passthrough barge-in disabled", "err", err)
		} else {
			c.vadSession = vs
		}
	}

	c.setState(StateListening)
	return nil
}

func (c *Connection) teardownPassthrough() {
	if c.vadSession != nil {
		_ = c.vadSession.Close()
	}
	if c.s2sSession != nil {
		_ = c.s2sSession.Close()
	}
}

// handlePassthroughAudio is the PASSTHROUGH counterpart of feeding the
// recognizer: run the frame past the local VAD (if any) for barge-in
// detection, then forward it to the external service unconditionally — the
// service does its own recognition on the same audio.
func (c *Connection) handlePassthroughAudio(raw []byte) {
	if c.vadSession != nil {
		ev, err := c.vadSession.ProcessFrame(raw)
		if err != nil {
			c.log.Warn("vad process frame failed", "err", err)
		} else if ev.Type == vad.VADSpeechStart {
			c.mu.Lock()
			speaking := c.state == StateSpeaking
			c.mu.Unlock()
			if speaking {
				go c.handlePassthroughBargeIn()
			}
		}
	}
	if c.s2sSession == nil {
		return
	}
	if err := c.s2sSession.SendAudio(raw); err != nil {
		c.log.Warn("s2s send audio failed", "err", err)
	}
}

// handlePassthroughBargeIn mirrors handleBargeIn's shape — stop-audio sent
// before anything else, then cancellation, then the egress floor raised —
// but interrupts the external session instead of cancelling a turnHandle,
// since PASSTHROUGH has no Orchestrator turn to cancel.
func (c *Connection) handlePassthroughBargeIn() {
	c.mu.Lock()
	if c.state != StateSpeaking {
		c.mu.Unlock()
		return
	}
	c.state = StateBargingIn
	c.mu.Unlock()

	select {
	case c.egress <- egressFrame{kind: egressStop}:
	case <-time.After(c.cfg.BargeInStopTimeout):
		c.log.Warn("passthrough barge-in: stop-audio enqueue exceeded BargeInStopTimeout")
	}

	if err := c.s2sSession.Interrupt(); err != nil {
		c.log.Warn("s2s interrupt failed", "err", err)
	}

	cancelled := c.passEpoch.Load()
	fresh := c.nextEpoch.Add(1)
	c.passEpoch.Store(fresh)
	for {
		prev := c.epochFloor.Load()
		if cancelled <= prev {
			break
		}
		if c.epochFloor.CompareAndSwap(prev, cancelled) {
			break
		}
	}

	c.setState(StateListening)
}

// passthroughAudioBridge forwards the external service's synthesized audio
// to the egress lane, tagged with the epoch current at connect time (or at
// the most recent local barge-in).
func (c *Connection) passthroughAudioBridge(ctx context.Context) {
	audio := c.s2sSession.Audio()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-audio:
			if !ok {
				if err := c.s2sSession.Err(); err != nil {
					c.log.Warn("s2s session ended with error", "err", err)
				}
				return
			}
			epoch := c.passEpoch.Load()
			c.mu.Lock()
			if c.state != StateBargingIn {
				c.state = StateSpeaking
			}
			c.mu.Unlock()
			select {
			case c.egress <- egressFrame{epoch: epoch, kind: egressAudio, audio: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// passthroughTranscriptBridge relays the external service's transcript
// stream (both caller and agent turns) as outbound Transcript frames and
// appends them to CoreMemory.History, since there is no turn lane doing
// that bookkeeping in this variant.
func (c *Connection) passthroughTranscriptBridge(ctx context.Context) {
	transcripts := c.s2sSession.Transcripts()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-transcripts:
			if !ok {
				return
			}
			c.recordPassthroughTranscript(ctx, entry)
		}
	}
}

func (c *Connection) recordPassthroughTranscript(ctx context.Context, entry memory.TranscriptEntry) {
	role := corestate.RoleUser
	if entry.IsNPC {
		role = corestate.RoleAssistant
	}
	c.mem.History = append(c.mem.History, corestate.HistoryEntry{
		AgentName: c.mem.ActiveAgent,
		Role:      role,
		Content:   entry.Text,
		Timestamp: time.Now(),
	})
	c.writeOutbound(ctx, OutboundFrame{
		Kind:       outboundKindTranscript,
		Transcript: &TranscriptFrame{Text: entry.Text, Final: true},
	})
}
