// Package speechio implements SpeechIO: bounded pools of recognizer and
// synthesizer sessions fronting the provider layer's STT/TTS fallback
// groups. Each MediaHandler connection acquires one recognizer session for
// its lifetime and one synthesizer session per turn.
package speechio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivrcore/mediacore/internal/resilience"
	"github.com/ivrcore/mediacore/pkg/provider/stt"
	"github.com/ivrcore/mediacore/pkg/provider/tts"
	"github.com/ivrcore/mediacore/pkg/types"
)

// ErrPoolExhausted is returned by Acquire when no slot became available
// before the acquire deadline.
var ErrPoolExhausted = errors.New("speechio: pool exhausted")

const defaultAcquireTimeout = 5 * time.Second

// acquireRetryConfig bounds the backoff applied around session setup once a
// pool slot is held. Its values are the same as resilience.Retry's own
// defaults, written out here because a stuck acquire already holds a slot
// other callers are waiting on: the bound on retries around a held slot is
// visible at this site rather than inherited implicitly.
var acquireRetryConfig = resilience.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  50 * time.Millisecond,
	MaxDelay:      500 * time.Millisecond,
	BackoffFactor: 2.0,
}

// RecognizerPool bounds the number of concurrently open STT sessions to the
// process-wide RECOGNIZER_POOL_SIZE. Acquire blocks up to AcquireTimeout
// before failing with ErrPoolExhausted, matching the "Recognizer acquire:
// bounded wait (5s default); exceeding closes the session with
// ServiceUnavailable" timeout policy.
type RecognizerPool struct {
	provider       stt.Provider
	slots          chan struct{}
	acquireTimeout time.Duration
}

// NewRecognizerPool creates a RecognizerPool of the given size fronting
// provider (typically a [resilience.STTFallback] composing several backends
// behind one circuit-broken interface).
func NewRecognizerPool(provider stt.Provider, size int, acquireTimeout time.Duration) *RecognizerPool {
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	if size <= 0 {
		size = 1
	}
	return &RecognizerPool{
		provider:       provider,
		slots:          make(chan struct{}, size),
		acquireTimeout: acquireTimeout,
	}
}

// RecognizerSession is a pool-owned [stt.SessionHandle]; Close both closes
// the underlying provider session and releases the pool slot.
type RecognizerSession struct {
	stt.SessionHandle
	release func()
}

// Close releases the underlying session and returns the slot to the pool.
// Safe to call exactly once; subsequent calls are forwarded to the
// underlying handle, which must itself tolerate repeat Close calls.
func (s *RecognizerSession) Close() error {
	defer s.release()
	return s.SessionHandle.Close()
}

// Acquire blocks until a pool slot is free (or AcquireTimeout elapses) and
// opens a new streaming session against cfg.
func (p *RecognizerPool) Acquire(ctx context.Context, cfg stt.StreamConfig) (*RecognizerSession, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	select {
	case p.slots <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, fmt.Errorf("speechio: acquire recognizer: %w", ErrPoolExhausted)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		<-p.slots
	}

	handle, err := resilience.Retry(ctx, "acquire recognizer", acquireRetryConfig, func() (stt.SessionHandle, error) {
		return p.provider.StartStream(ctx, cfg)
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("speechio: start recognizer stream: %w", err)
	}
	return &RecognizerSession{SessionHandle: handle, release: release}, nil
}

// InUse returns the number of currently held slots, for observability.
func (p *RecognizerPool) InUse() int { return len(p.slots) }

// SynthesizerPool bounds the number of concurrently open TTS sessions to the
// process-wide SYNTHESIZER_POOL_SIZE.
type SynthesizerPool struct {
	provider       tts.Provider
	slots          chan struct{}
	acquireTimeout time.Duration
}

// NewSynthesizerPool creates a SynthesizerPool of the given size fronting
// provider (typically a [resilience.TTSFallback]).
func NewSynthesizerPool(provider tts.Provider, size int, acquireTimeout time.Duration) *SynthesizerPool {
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	if size <= 0 {
		size = 1
	}
	return &SynthesizerPool{
		provider:       provider,
		slots:          make(chan struct{}, size),
		acquireTimeout: acquireTimeout,
	}
}

// Synthesize blocks until a pool slot is free (or AcquireTimeout elapses),
// then streams text to the synthesizer. The returned release func must be
// called exactly once, once the caller is done draining the audio channel
// (normally via defer, immediately after the audio channel closes or the
// call is cancelled for barge-in).
func (p *SynthesizerPool) Synthesize(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, func(), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	select {
	case p.slots <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, nil, fmt.Errorf("speechio: acquire synthesizer: %w", ErrPoolExhausted)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		<-p.slots
	}

	// Retries only cover stream setup, mirroring tts.Provider's own
	// documented contract: once SynthesizeStream has started consuming
	// text, a retry could resend fragments out of order.
	audioCh, err := resilience.Retry(ctx, "acquire synthesizer", acquireRetryConfig, func() (<-chan []byte, error) {
		return p.provider.SynthesizeStream(ctx, text, voice)
	})
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("speechio: start synthesis stream: %w", err)
	}
	return audioCh, release, nil
}

// InUse returns the number of currently held slots, for observability.
func (p *SynthesizerPool) InUse() int { return len(p.slots) }
