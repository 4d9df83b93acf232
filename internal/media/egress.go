package media

import "context"

// egressLoop is the single writer goroutine: the underlying WebSocket
// requires exactly one writer, so every outbound frame — synthesized audio
// and the stop-audio control frame — flows through this one channel.
//
// Frames carry the turn_epoch of the turn that produced them. A frame whose
// epoch has fallen at or below epochFloor belongs to a turn that barge-in
// already cancelled and is silently dropped here: this is where ordering
// guarantee 2 ("agent audio for turn N is never interleaved with turn
// N+1's") is actually enforced.
func (c *Connection) egressLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.egress:
			if !ok {
				return
			}
			if f.epoch != 0 && f.epoch <= c.epochFloor.Load() {
				continue
			}
			c.writeEgressFrame(ctx, f)
		}
	}
}

func (c *Connection) writeEgressFrame(ctx context.Context, f egressFrame) {
	switch f.kind {
	case egressStop:
		c.writeOutbound(ctx, OutboundFrame{Kind: outboundKindStopAudio, StopAudio: &OutboundStopAudio{}})
	case egressAudio:
		c.writeOutbound(ctx, OutboundFrame{
			Kind:      outboundKindAudioData,
			AudioData: &OutboundAudioData{Data: encodeAudio(f.audio)},
		})
	case egressDone:
		c.mu.Lock()
		if c.state == StateSpeaking && c.speaking != nil && c.speaking.epoch == f.epoch {
			c.state = StateIdle
			c.speaking = nil
		}
		c.mu.Unlock()
	}
}
