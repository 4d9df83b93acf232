package media

import (
	"context"
	"fmt"

	"github.com/ivrcore/mediacore/internal/agent"
	"github.com/ivrcore/mediacore/internal/speechio"
	"github.com/ivrcore/mediacore/pkg/types"
)

// Speaker adapts a SynthesizerPool into an orchestrator.Speaker: the small
// interface the Orchestrator uses to emit greeting, re-entry, apology, and
// closing phrases without depending on SpeechIO's or the egress lane's
// concrete types.
type Speaker struct {
	Synthesizers *speechio.SynthesizerPool
}

// Speak synthesizes text in voice and hands the resulting audio to sink.
// The returned error only ever reflects a failure to start synthesis; audio
// delivery itself is asynchronous, matching agent.AudioSink's contract that
// Enqueue must not block on playout.
func (s *Speaker) Speak(ctx context.Context, text string, voice agent.VoiceConfig, sink agent.AudioSink) error {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	vp := types.VoiceProfile{Name: voice.Name, SpeedFactor: voice.Rate}
	if voice.Style != "" {
		vp.Metadata = map[string]string{"style": voice.Style}
	}

	audioCh, release, err := s.Synthesizers.Synthesize(ctx, textCh, vp)
	if err != nil {
		return fmt.Errorf("media: speak: %w", err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer release()
		for {
			select {
			case frame, ok := <-audioCh:
				if !ok {
					return
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	sink.Enqueue(out)
	return nil
}
