// Package transcribe turns captured utterances into text.
//
// A [Gateway] prefers a local speech model and falls back to an ordered
// chain of cloud providers. The local model is created lazily on first use;
// if that fails the gateway logs it once and keeps running cloud-only.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/stt"
)

// ErrAllProvidersFailed is returned when neither the local model nor any
// cloud provider produced a transcription.
var ErrAllProvidersFailed = errors.New("transcribe: all providers failed")

// DefaultLocalTimeout bounds one local model call. It is shorter than the
// usual pass deadline so a hung model still leaves time for the cloud.
const DefaultLocalTimeout = 10 * time.Second

// ErrNotPCM is returned for chunks that were not converted to PCM first.
var ErrNotPCM = errors.New("transcribe: chunk is not pcm")

// Result is a transcription. An empty Text means no speech was recognised
// and is not an error.
type Result struct {
	Text       string
	Language   string
	Confidence float64

	// Provider names the backend that produced the result.
	Provider string

	// Duration is the wall time spent transcribing, fallbacks included.
	Duration time.Duration

	// Fallback is true when the result did not come from the preferred
	// backend.
	Fallback bool
}

// LocalFactory creates the local speech model. It is called at most once.
type LocalFactory func() (stt.Provider, error)

// Option is a functional option for [New].
type Option func(*Gateway)

// WithLocal sets the local model factory and the name reported for it.
func WithLocal(name string, factory LocalFactory) Option {
	return func(g *Gateway) {
		g.localName = name
		g.localFactory = factory
	}
}

// WithCloud sets the ordered cloud fallback chain.
func WithCloud(group *resilience.FallbackGroup[stt.Provider]) Option {
	return func(g *Gateway) { g.cloud = group }
}

// WithLocalTimeout bounds each local model call. When only this deadline
// expires the cloud chain is tried. Default [DefaultLocalTimeout].
func WithLocalTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.localTimeout = d
		}
	}
}

// WithMetrics sets the metrics sink for local model requests. Cloud
// attempts are reported through the fallback group's hooks. Default
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithClock overrides time.Now for duration measurements.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway transcribes audio with local-first, cloud-fallback semantics. It is
// safe for concurrent use.
type Gateway struct {
	localName    string
	localFactory LocalFactory
	localTimeout time.Duration
	cloud        *resilience.FallbackGroup[stt.Provider]
	metrics      *observe.Metrics
	log          *slog.Logger
	now          func() time.Time

	localOnce sync.Once
	local     stt.Provider
}

// New returns a Gateway. With neither a local factory nor a cloud chain,
// every call fails with [ErrAllProvidersFailed].
func New(opts ...Option) *Gateway {
	g := &Gateway{
		localName:    "local",
		localTimeout: DefaultLocalTimeout,
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// localProvider initialises the local model on first use and returns it, or
// nil when there is none.
func (g *Gateway) localProvider() stt.Provider {
	g.localOnce.Do(func() {
		if g.localFactory == nil {
			return
		}
		p, err := g.localFactory()
		if err != nil {
			g.log.Warn("transcribe: local model unavailable, running cloud-only", "provider", g.localName, "err", err)
			return
		}
		g.local = p
		g.log.Info("transcribe: local model ready", "provider", g.localName)
	})
	return g.local
}

// Degraded reports whether a local model was configured but could not be
// initialised. It forces initialisation.
func (g *Gateway) Degraded() bool {
	return g.localFactory != nil && g.localProvider() == nil
}

// Providers returns the backend names in trial order.
func (g *Gateway) Providers() []string {
	var names []string
	if g.localFactory != nil {
		names = append(names, g.localName)
	}
	if g.cloud != nil {
		names = append(names, g.cloud.Names()...)
	}
	return names
}

// Transcribe returns the text spoken in chunk, which must be 16-bit PCM
// (normally [audio.TranscriptionFormat]). language is a hint and may be empty.
func (g *Gateway) Transcribe(ctx context.Context, chunk audio.AudioChunk, language string) (Result, error) {
	if !chunk.IsPCM() {
		return Result{}, fmt.Errorf("%w: %s", ErrNotPCM, chunk.Encoding)
	}
	req := stt.Request{
		PCM:        chunk.Data,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Language:   language,
	}
	start := g.now()

	var errs []error
	fallback := false
	if local := g.localProvider(); local != nil {
		res, err := g.transcribeLocal(ctx, local, req)
		if err == nil {
			return g.result(res, g.localName, start, false), nil
		}
		g.log.Warn("transcribe: local model failed", "provider", g.localName, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", g.localName, err))
		// Only the caller's deadline stops the chain; the local one does not.
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, ctx.Err())
		}
		fallback = true
	}

	if g.cloud == nil || g.cloud.Len() == 0 {
		if len(errs) == 0 {
			errs = append(errs, errors.New("no providers configured"))
		}
		return Result{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
	}

	res, name, err := resilience.ExecuteContext(ctx, g.cloud, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
	if err != nil {
		errs = append(errs, err)
		return Result{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
	}
	names := g.cloud.Names()
	if len(names) > 0 && name != names[0] {
		fallback = true
	}
	return g.result(res, name, start, fallback), nil
}

// transcribeLocal runs the local model under its own deadline.
func (g *Gateway) transcribeLocal(ctx context.Context, local stt.Provider, req stt.Request) (stt.Result, error) {
	lctx, cancel := context.WithTimeout(ctx, g.localTimeout)
	defer cancel()
	res, err := local.Transcribe(lctx, req)
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.localName, "stt", "error")
		g.metrics.RecordProviderError(ctx, g.localName, "stt")
		return stt.Result{}, err
	}
	g.metrics.RecordProviderRequest(ctx, g.localName, "stt", "ok")
	return res, nil
}

func (g *Gateway) result(res stt.Result, provider string, start time.Time, fallback bool) Result {
	return Result{
		Text:       strings.TrimSpace(res.Text),
		Language:   res.Language,
		Confidence: res.Confidence,
		Provider:   provider,
		Duration:   g.now().Sub(start),
		Fallback:   fallback,
	}
}
