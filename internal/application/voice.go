package application

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"home-controller/internal/domain"
)

const pulseInterval = 100 * time.Millisecond

// VoiceSubmitter is the part of the gateway a voice session needs.
type VoiceSubmitter interface {
	SubmitVoiceCommand(ctx context.Context, transcript string) (domain.VoiceResult, error)
}

// VoiceSession drives one recognizer through Idle, Listening, Processing and
// SpeakingFeedback. All fields below recognizer are owned by the loop.
type VoiceSession struct {
	loop       *Loop
	recognizer Recognizer
	submitter  VoiceSubmitter
	logger     *slog.Logger

	state    domain.VoiceState
	language string
	cancel   context.CancelFunc
	// session is bumped whenever a listen starts or ends so late recognizer output
	// from an old session is ignored.
	session uint64

	onState listeners[StateChange[domain.VoiceState]]
	onError listeners[error]
	onPulse listeners[float64]
}

func NewVoiceSession(loop *Loop, recognizer Recognizer, submitter VoiceSubmitter, language string, logger *slog.Logger) *VoiceSession {
	return &VoiceSession{
		loop:       loop,
		recognizer: recognizer,
		submitter:  submitter,
		logger:     logger,
		state:      domain.VoiceIdle,
		language:   NormalizeLanguage(language),
	}
}

// NormalizeLanguage maps a short UI language code to a recognizer locale.
func NormalizeLanguage(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "ru") {
		return "ru-RU"
	}
	return "en-US"
}

// Subscriptions must be registered before the loop starts.

func (v *VoiceSession) OnStateChange(fn func(StateChange[domain.VoiceState])) { v.onState.add(fn) }
func (v *VoiceSession) OnError(fn func(error))                               { v.onError.add(fn) }
func (v *VoiceSession) OnPulse(fn func(float64))                             { v.onPulse.add(fn) }

// State and Language must be called on the loop.
func (v *VoiceSession) State() domain.VoiceState { return v.state }
func (v *VoiceSession) Language() string         { return v.language }

func (v *VoiceSession) SetLanguage(ctx context.Context, lang string) error {
	return v.loop.Do(ctx, func() {
		v.language = NormalizeLanguage(lang)
	})
}

// Start begins listening. It is a no-op unless the session is Idle.
func (v *VoiceSession) Start(ctx context.Context) error {
	var (
		started  bool
		session  uint64
		language string
		listen   context.Context
		startErr error
	)
	if err := v.loop.Do(ctx, func() {
		if v.state != domain.VoiceIdle {
			return
		}
		if v.recognizer == nil {
			startErr = fmt.Errorf("starting recognition: %w", domain.ErrUnsupportedCapability)
			v.onError.emit(startErr)
			return
		}
		v.session++
		session = v.session
		language = v.language
		listen, v.cancel = context.WithCancel(context.WithoutCancel(ctx))
		v.setState(domain.VoiceListening)
		started = true
	}); err != nil {
		return err
	}
	if !started {
		return startErr
	}

	results, err := v.recognizer.Listen(listen, language)
	if err != nil {
		v.loop.Post(func() { v.fail(session, fmt.Errorf("starting %s recognizer: %w", v.recognizer.Name(), err)) })
		return err
	}

	go v.pulse(listen, session)
	go v.consume(listen, session, results)
	return nil
}

// Stop ends a listen without processing. It has no effect outside Listening.
func (v *VoiceSession) Stop(ctx context.Context) error {
	return v.loop.Do(ctx, func() {
		if v.state != domain.VoiceListening {
			return
		}
		v.endListen()
		v.setState(domain.VoiceIdle)
	})
}

func (v *VoiceSession) Toggle(ctx context.Context) error {
	var listening bool
	if err := v.loop.Do(ctx, func() { listening = v.state == domain.VoiceListening }); err != nil {
		return err
	}
	if listening {
		return v.Stop(ctx)
	}
	return v.Start(ctx)
}

func (v *VoiceSession) consume(ctx context.Context, session uint64, results <-chan RecognitionResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				v.loop.Post(func() { v.fail(session, nil) })
				return
			}
			if r.Err != nil {
				v.loop.Post(func() { v.fail(session, fmt.Errorf("recognizing speech: %w", r.Err)) })
				return
			}
			if !r.Final {
				v.logger.Debug("interim transcript", "transcript", r.Transcript)
				continue
			}
			if strings.TrimSpace(r.Transcript) == "" {
				v.loop.Post(func() { v.fail(session, nil) })
				return
			}
			v.loop.Post(func() { v.process(session, r.Transcript) })
			return
		}
	}
}

// process runs on the loop with a final transcript.
func (v *VoiceSession) process(session uint64, transcript string) {
	if session != v.session || v.state != domain.VoiceListening {
		return
	}
	v.endListen()
	v.setState(domain.VoiceProcessing)
	v.logger.Info("recognized speech", "transcript", transcript)

	go func() {
		_, err := v.submitter.SubmitVoiceCommand(context.Background(), transcript)
		v.loop.Post(func() {
			if err != nil {
				v.onError.emit(err)
			}
			// Feedback is queued, not awaited, so SpeakingFeedback ends in the same turn.
			v.setState(domain.VoiceSpeakingFeedback)
			v.setState(domain.VoiceIdle)
		})
	}()
}

// fail ends a listen that produced nothing usable. err may be nil for "no input".
func (v *VoiceSession) fail(session uint64, err error) {
	if session != v.session || v.state != domain.VoiceListening {
		return
	}
	v.endListen()
	if err != nil {
		v.logger.Warn("voice recognition failed", "error", err)
		v.onError.emit(err)
	} else {
		v.logger.Debug("no speech recognized")
	}
	v.setState(domain.VoiceIdle)
}

func (v *VoiceSession) endListen() {
	v.session++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func (v *VoiceSession) pulse(ctx context.Context, session uint64) {
	ticker := time.NewTicker(pulseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			intensity := 0.5 + rand.Float64()*0.5
			v.loop.Post(func() {
				if session == v.session && v.state == domain.VoiceListening {
					v.onPulse.emit(intensity)
				}
			})
		}
	}
}

func (v *VoiceSession) setState(to domain.VoiceState) {
	from := v.state
	v.state = to
	v.onState.emit(StateChange[domain.VoiceState]{From: from, To: to})
}
