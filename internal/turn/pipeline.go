// Package turn runs one speech turn: it converts a captured utterance,
// transcribes it into the call transcript, decides whether to answer, and
// delivers the answer as live speech, a voice message or plain text.
//
// A [Pipeline] is stateless apart from its collaborators. All per-chat state
// lives in the [callsession.Store]; the pipeline never holds a chat's lock
// across a provider call and re-reads the session after every suspension.
// Provider failures never escape a pass. They become error-count increments,
// fallbacks and, after repeated transcription failures, one notice in the
// chat.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/MrWong99/huddle/internal/callctl"
	"github.com/MrWong99/huddle/internal/callsession"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/policy"
	"github.com/MrWong99/huddle/internal/synth"
	"github.com/MrWong99/huddle/internal/transcribe"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/llm"
)

// Defaults for the reply decision and the failure notice.
const (
	DefaultReplyChance     = 0.3
	DefaultNoticeThreshold = 5
	DefaultNotice          = "Heads up: I can't make out what anyone is saying right now, so I'll be quiet for a bit."
)

// errNotJoined ends a pass whose chat left the call before the transcript
// was recorded.
var errNotJoined = errors.New("turn: chat is not in a call")

// errNoMessenger is reported when a reply could only go out as a message
// and no messenger is configured.
var errNoMessenger = errors.New("turn: no messenger configured")

// ── Collaborators ───────────────────────────────────────────────────────────

// Codec converts audio between the formats the pass needs.
type Codec interface {
	ToTranscriptionFormat(ctx context.Context, chunk audio.AudioChunk) (audio.AudioChunk, error)
	ToPlaybackFormat(ctx context.Context, chunk audio.AudioChunk) (audio.AudioChunk, error)
	ToVoiceMessage(ctx context.Context, chunk audio.AudioChunk) (audio.AudioChunk, error)
}

// Transcriber turns PCM speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk audio.AudioChunk, language string) (transcribe.Result, error)
}

// Synthesizer turns reply text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, rate string) (synth.Audio, error)
}

// Streamer plays PCM into the chat's live call.
type Streamer interface {
	Stream(ctx context.Context, chatID string, pcm []byte) error
}

// Messenger posts into the chat's text surface.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendVoice(ctx context.Context, chatID string, voice audio.AudioChunk) error
}

// History reads the chat's recent text messages, oldest first.
type History interface {
	Recent(ctx context.Context, chatID string, limit int) ([]ChatMessage, error)
}

// PolicySource returns the behaviour configuration of a chat.
type PolicySource interface {
	For(chatID string) policy.Config
}

// Deps are the collaborators every pipeline needs.
type Deps struct {
	Sessions    *callsession.Store
	Policy      *policy.Engine
	Settings    PolicySource
	Codec       Codec
	Transcriber Transcriber
	Generator   llm.Provider
	Streamer    Streamer
}

func (d Deps) validate() error {
	var errs []error
	if d.Sessions == nil {
		errs = append(errs, errors.New("turn: session store is required"))
	}
	if d.Policy == nil {
		errs = append(errs, errors.New("turn: policy engine is required"))
	}
	if d.Settings == nil {
		errs = append(errs, errors.New("turn: policy settings are required"))
	}
	if d.Codec == nil {
		errs = append(errs, errors.New("turn: codec is required"))
	}
	if d.Transcriber == nil {
		errs = append(errs, errors.New("turn: transcriber is required"))
	}
	if d.Generator == nil {
		errs = append(errs, errors.New("turn: response generator is required"))
	}
	if d.Streamer == nil {
		errs = append(errs, errors.New("turn: streamer is required"))
	}
	return errors.Join(errs...)
}

// ── Options ─────────────────────────────────────────────────────────────────

// Timeouts bound each kind of external call in a pass. A timeout counts as
// a failure of that call.
type Timeouts struct {
	Convert    time.Duration
	Transcribe time.Duration
	Generate   time.Duration
	Synthesize time.Duration
	Stream     time.Duration
	Deliver    time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Convert:    20 * time.Second,
		Transcribe: 30 * time.Second,
		Generate:   20 * time.Second,
		Synthesize: 30 * time.Second,
		Stream:     60 * time.Second,
		Deliver:    15 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	for _, f := range []struct{ v, def *time.Duration }{
		{&t.Convert, &d.Convert},
		{&t.Transcribe, &d.Transcribe},
		{&t.Generate, &d.Generate},
		{&t.Synthesize, &d.Synthesize},
		{&t.Stream, &d.Stream},
		{&t.Deliver, &d.Deliver},
	} {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	return t
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithSynthesizer enables spoken replies.
func WithSynthesizer(s Synthesizer) Option {
	return func(p *Pipeline) { p.synth = s }
}

// WithMessenger enables notices, voice messages and text replies.
func WithMessenger(m Messenger) Option {
	return func(p *Pipeline) { p.messenger = m }
}

// WithHistory adds the chat's recent text messages to the prompt.
func WithHistory(h History, limit int) Option {
	return func(p *Pipeline) {
		p.history = h
		if limit > 0 {
			p.historySize = limit
		}
	}
}

// WithPersona sets who the bot is.
func WithPersona(persona Persona) Option {
	return func(p *Pipeline) { p.prompter = NewPrompter(persona) }
}

// WithTimeouts overrides the per-call timeouts. Zero fields keep defaults.
func WithTimeouts(t Timeouts) Option {
	return func(p *Pipeline) { p.timeouts = t.withDefaults() }
}

// WithReplyChance sets the probability in [0, 1] of attempting a reply to
// an utterance. Default 0.3.
func WithReplyChance(chance float64) Option {
	return func(p *Pipeline) { p.replyChance = min(max(chance, 0), 1) }
}

// WithRand overrides the source of the reply dice. fn returns values in
// [0, 1).
func WithRand(fn func() float64) Option {
	return func(p *Pipeline) { p.rand = fn }
}

// WithNotice sets the degraded-service notice and the number of
// consecutive failures that trigger it. Zero keeps the default threshold.
func WithNotice(text string, threshold int) Option {
	return func(p *Pipeline) {
		if text != "" {
			p.notice = text
		}
		if threshold > 0 {
			p.noticeThreshold = threshold
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// ── Pipeline ────────────────────────────────────────────────────────────────

// Pipeline runs speech turns. It is safe for concurrent use; callers keep
// passes of one chat in arrival order.
type Pipeline struct {
	deps Deps

	synth     Synthesizer
	messenger Messenger
	history   History
	prompter  *Prompter

	timeouts        Timeouts
	replyChance     float64
	noticeThreshold int
	notice          string
	historySize     int

	rand    func() float64
	now     func() time.Time
	metrics *observe.Metrics
	log     *slog.Logger
}

// New returns a Pipeline. Missing optional collaborators are logged once
// and the pipeline runs without them: no synthesizer means text replies, no
// messenger means no notices and no message fallbacks, no history means the
// prompt carries the call transcript only.
func New(d Deps, opts ...Option) (*Pipeline, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		deps:            d,
		timeouts:        DefaultTimeouts(),
		replyChance:     DefaultReplyChance,
		noticeThreshold: DefaultNoticeThreshold,
		notice:          DefaultNotice,
		historySize:     defaultHistorySize,
		rand:            rand.Float64,
		now:             time.Now,
		log:             slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.prompter == nil {
		p.prompter = NewPrompter(Persona{})
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	for name, missing := range map[string]bool{
		"synthesizer": p.synth == nil,
		"messenger":   p.messenger == nil,
		"history":     p.history == nil,
	} {
		if missing {
			p.log.Warn("turn: running degraded", "missing", name)
		}
	}
	return p, nil
}

// Handle runs one pass for job and reports what happened. It never panics
// on provider failures and never returns them; they are folded into the
// session's error count and the returned [Outcome].
func (p *Pipeline) Handle(ctx context.Context, job Job) Outcome {
	start := p.now()
	ctx, span := observe.StartChatSpan(ctx, "turn.handle", job.ChatID, observe.AttrJobID.String(job.ID.String()))

	log := p.log.With("chat_id", job.ChatID, "job_id", job.ID.String())
	out := p.handle(ctx, job, log)
	out.JobID = job.ID

	span.SetAttributes(
		observe.AttrStage.String(string(out.Stage)),
		observe.AttrDelivery.String(string(out.Delivery)),
	)
	observe.EndSpan(span, out.Err)
	p.metrics.TurnDuration.Record(ctx, p.now().Sub(start).Seconds())
	log.Debug("turn: pass finished", "stage", out.Stage, "delivery", out.Delivery, "err", out.Err)
	return out
}

func (p *Pipeline) handle(ctx context.Context, job Job, log *slog.Logger) Outcome {
	chatID := job.ChatID
	cfg := p.deps.Settings.For(chatID)
	if !cfg.STTEnabled && !cfg.ProactiveEnabled {
		return Outcome{Stage: StageDisabled, Delivery: DeliveryNone}
	}
	if !p.deps.Sessions.Get(chatID).IsJoined() {
		return Outcome{Stage: StageNotJoined, Delivery: DeliveryNone}
	}

	// 1. Convert.
	pcm, err := p.convert(ctx, job.Chunk)
	if err != nil {
		log.Warn("turn: convert failed", "encoding", job.Chunk.Encoding, "err", err)
		p.recordFailure(chatID)
		return Outcome{Stage: StageConvert, Delivery: DeliveryNone, Err: err}
	}

	// 2. Transcribe.
	res, err := p.transcribe(ctx, pcm, cfg.STTLanguage)
	if err != nil {
		log.Warn("turn: transcription failed", "err", err)
		out := Outcome{Stage: StageTranscribe, Delivery: DeliveryNone, Err: err}
		if p.recordFailure(chatID) >= p.noticeThreshold {
			out.Notified = p.sendNotice(ctx, chatID, log)
		}
		return out
	}
	if res.Fallback {
		log.Debug("turn: transcribed by fallback provider", "provider", res.Provider)
	}

	// 3. Record.
	if res.Text == "" {
		p.deps.Sessions.Update(chatID, func(s *callsession.Session) error { //nolint:errcheck // fn never fails
			s.RecordSuccess()
			return nil
		})
		return Outcome{Stage: StageSilence, Delivery: DeliveryNone}
	}
	entry := callsession.TranscriptEntry{
		Timestamp: job.Chunk.CapturedAt,
		Speaker:   job.Chunk.Speaker,
		Text:      res.Text,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = job.ReceivedAt
	}
	sess, err := p.deps.Sessions.Update(chatID, func(s *callsession.Session) error {
		if !s.IsJoined() {
			return errNotJoined
		}
		s.Transcript.Append(entry)
		s.RecordSuccess()
		return nil
	})
	if err != nil {
		return Outcome{Stage: StageNotJoined, Transcript: res.Text, Delivery: DeliveryNone, Err: err}
	}
	out := Outcome{Transcript: res.Text, Delivery: DeliveryNone}

	// 4. Reply dice.
	if p.rand() >= p.replyChance {
		out.Stage = StageDice
		return out
	}

	// 5. Cooldown, then generation.
	if d := p.deps.Policy.CanRespondNow(sess, p.now()); !d.Allowed {
		log.Debug("turn: reply gated", "gate", d.Gate, "reason", d.Reason)
		out.Stage = StageCooldown
		return out
	}
	reply, err := p.generate(ctx, chatID, sess.Transcript.Entries(), log)
	if err != nil {
		log.Warn("turn: generation failed", "err", err)
		p.recordFailure(chatID)
		out.Stage, out.Err = StageGenerate, err
		return out
	}
	if IsSkip(reply) {
		out.Stage = StageSkip
		return out
	}
	p.deps.Sessions.Update(chatID, func(s *callsession.Session) error { //nolint:errcheck // fn never fails
		s.LastResponseAt = p.now()
		return nil
	})
	out.Stage, out.Reply = StageDelivered, reply

	// 6. Deliver.
	out.Delivery, out.Err = p.deliver(ctx, chatID, cfg, reply, log)
	if out.Delivery != DeliveryNone {
		p.metrics.RecordReply(ctx, string(out.Delivery))
	}
	return out
}

// recordFailure increments the chat's error count and returns the new
// value. Every failing stage counts: convert, transcribe, generate,
// synthesize and stream.
func (p *Pipeline) recordFailure(chatID string) (count int) {
	p.deps.Sessions.Update(chatID, func(s *callsession.Session) error { //nolint:errcheck // fn never fails
		count = s.RecordFailure()
		return nil
	})
	return count
}

func (p *Pipeline) sendNotice(ctx context.Context, chatID string, log *slog.Logger) bool {
	if p.messenger == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Deliver)
	defer cancel()
	if err := p.messenger.SendText(ctx, chatID, p.notice); err != nil {
		log.Warn("turn: degraded notice not delivered", "err", err)
		return false
	}
	// The run is reported; the next notice needs a fresh run.
	p.deps.Sessions.Update(chatID, func(s *callsession.Session) error { //nolint:errcheck // fn never fails
		s.RecordSuccess()
		return nil
	})
	p.metrics.DegradedNotices.Add(ctx, 1)
	log.Info("turn: degraded notice sent")
	return true
}

// ── Stages ──────────────────────────────────────────────────────────────────

func (p *Pipeline) convert(ctx context.Context, chunk audio.AudioChunk) (audio.AudioChunk, error) {
	start := p.now()
	defer func() { p.metrics.RecordStage(ctx, observe.StageConvert, p.now().Sub(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Convert)
	defer cancel()
	return p.deps.Codec.ToTranscriptionFormat(ctx, chunk)
}

func (p *Pipeline) transcribe(ctx context.Context, pcm audio.AudioChunk, language string) (transcribe.Result, error) {
	start := p.now()
	defer func() { p.metrics.RecordStage(ctx, observe.StageTranscribe, p.now().Sub(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Transcribe)
	defer cancel()
	res, err := p.deps.Transcriber.Transcribe(ctx, pcm, language)
	res.Text = strings.TrimSpace(res.Text)
	return res, err
}

func (p *Pipeline) generate(ctx context.Context, chatID string, entries []callsession.TranscriptEntry, log *slog.Logger) (string, error) {
	var history []ChatMessage
	if p.history != nil {
		hctx, cancel := context.WithTimeout(ctx, p.timeouts.Deliver)
		h, err := p.history.Recent(hctx, chatID, p.historySize)
		cancel()
		if err != nil {
			log.Warn("turn: chat history unavailable", "err", err)
		}
		history = h
	}

	start := p.now()
	defer func() { p.metrics.RecordStage(ctx, observe.StageGenerate, p.now().Sub(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Generate)
	defer cancel()
	resp, err := p.deps.Generator.Complete(ctx, p.prompter.Build(entries, history))
	if err != nil {
		return "", fmt.Errorf("turn: generate: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// deliver gets reply into the chat. Spoken replies go live when the chat is
// still joined, then as a voice message, then as text.
func (p *Pipeline) deliver(ctx context.Context, chatID string, cfg policy.Config, reply string, log *slog.Logger) (Delivery, error) {
	if !cfg.TTSEnabled || p.synth == nil {
		return p.sendText(ctx, chatID, reply)
	}

	speech, err := p.synthesize(ctx, reply, cfg)
	if err != nil {
		log.Warn("turn: synthesis failed, replying in text", "err", err)
		p.recordFailure(chatID)
		return p.sendText(ctx, chatID, reply)
	}
	chunk := speech.Chunk()

	if !p.deps.Sessions.Get(chatID).IsJoined() {
		log.Info("turn: chat left the call before the reply, replying in text")
		return p.sendText(ctx, chatID, reply)
	}
	err = p.stream(ctx, chatID, chunk)
	switch {
	case err == nil:
		return DeliveryVoice, nil
	case errors.Is(err, callctl.ErrNotJoined):
		log.Info("turn: chat left the call during playback, replying in text")
		return p.sendText(ctx, chatID, reply)
	}
	log.Warn("turn: streaming failed, sending voice message", "err", err)
	p.recordFailure(chatID)

	err = p.sendVoice(ctx, chatID, chunk)
	if err == nil {
		return DeliveryVoiceMessage, nil
	}
	log.Warn("turn: voice message failed, replying in text", "err", err)
	return p.sendText(ctx, chatID, reply)
}

func (p *Pipeline) synthesize(ctx context.Context, reply string, cfg policy.Config) (synth.Audio, error) {
	start := p.now()
	defer func() { p.metrics.RecordStage(ctx, observe.StageSynthesize, p.now().Sub(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Synthesize)
	defer cancel()
	return p.synth.Synthesize(ctx, reply, cfg.TTSVoice, cfg.TTSRate)
}

func (p *Pipeline) stream(ctx context.Context, chatID string, chunk audio.AudioChunk) error {
	start := p.now()
	defer func() { p.metrics.RecordStage(ctx, observe.StageStream, p.now().Sub(start)) }()

	cctx, cancel := context.WithTimeout(ctx, p.timeouts.Convert)
	playback, err := p.deps.Codec.ToPlaybackFormat(cctx, chunk)
	cancel()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(ctx, p.timeouts.Stream)
	defer cancel()
	return p.deps.Streamer.Stream(ctx, chatID, playback.Data)
}

func (p *Pipeline) sendVoice(ctx context.Context, chatID string, chunk audio.AudioChunk) error {
	if p.messenger == nil {
		return errNoMessenger
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeouts.Convert)
	voice, err := p.deps.Codec.ToVoiceMessage(cctx, chunk)
	cancel()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(ctx, p.timeouts.Deliver)
	defer cancel()
	return p.messenger.SendVoice(ctx, chatID, voice)
}

func (p *Pipeline) sendText(ctx context.Context, chatID, reply string) (Delivery, error) {
	if p.messenger == nil {
		return DeliveryNone, errNoMessenger
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Deliver)
	defer cancel()
	if err := p.messenger.SendText(ctx, chatID, reply); err != nil {
		return DeliveryNone, fmt.Errorf("turn: send text: %w", err)
	}
	return DeliveryText, nil
}
