package transcribe_test

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/internal/transcribe"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/stt"
	sttmock "github.com/MrWong99/huddle/pkg/provider/stt/mock"
)

var errBoom = errors.New("boom")

func pcmChunk() audio.AudioChunk {
	return audio.AudioChunk{
		Data:       audio.Silence(audio.TranscriptionFormat, 200*time.Millisecond),
		SampleRate: 16000,
		Channels:   1,
		Encoding:   audio.EncodingPCM16,
	}
}

func cloudChain(providers ...*sttmock.Provider) *resilience.FallbackGroup[stt.Provider] {
	g := resilience.NewFallbackGroup[stt.Provider](providers[0], "cloud-0", resilience.FallbackConfig{})
	for i, p := range providers[1:] {
		g.AddFallback("cloud-"+string(rune('1'+i)), p)
	}
	return g
}

func localFrom(p stt.Provider) transcribe.LocalFactory {
	return func() (stt.Provider, error) { return p, nil }
}

func TestTranscribe_LocalFirst(t *testing.T) {
	t.Parallel()

	local := &sttmock.Provider{Result: stt.Result{Text: "  hello there ", Language: "en", Confidence: 0.9}}
	cloud := &sttmock.Provider{Result: stt.Result{Text: "cloud"}}
	g := transcribe.New(transcribe.WithLocal("whisper", localFrom(local)), transcribe.WithCloud(cloudChain(cloud)))

	res, err := g.Transcribe(context.Background(), pcmChunk(), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Provider != "whisper" || res.Fallback {
		t.Errorf("result = %+v", res)
	}
	if cloud.CallCount() != 0 {
		t.Error("cloud provider should not be called when local succeeds")
	}
	req := local.TranscribeCalls[0].Req
	if req.SampleRate != 16000 || req.Channels != 1 || req.Language != "en" {
		t.Errorf("request = %d Hz %d ch lang %q", req.SampleRate, req.Channels, req.Language)
	}
}

func TestTranscribe_CloudFallback(t *testing.T) {
	t.Parallel()

	local := &sttmock.Provider{Err: errBoom}
	cloud := &sttmock.Provider{Result: stt.Result{Text: "from the cloud"}}
	g := transcribe.New(transcribe.WithLocal("whisper", localFrom(local)), transcribe.WithCloud(cloudChain(cloud)))

	res, err := g.Transcribe(context.Background(), pcmChunk(), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from the cloud" || res.Provider != "cloud-0" || !res.Fallback {
		t.Errorf("result = %+v", res)
	}
}

func TestTranscribe_SecondCloudProvider(t *testing.T) {
	t.Parallel()

	first := &sttmock.Provider{Err: errBoom}
	second := &sttmock.Provider{Result: stt.Result{Text: "ok"}}
	g := transcribe.New(transcribe.WithCloud(cloudChain(first, second)))

	res, err := g.Transcribe(context.Background(), pcmChunk(), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Provider != "cloud-1" || !res.Fallback {
		t.Errorf("result = %+v, want fallback from cloud-1", res)
	}
}

func TestTranscribe_AllFail(t *testing.T) {
	t.Parallel()

	local := &sttmock.Provider{Err: errors.New("model crashed")}
	cloud := &sttmock.Provider{Err: errBoom}
	g := transcribe.New(transcribe.WithLocal("whisper", localFrom(local)), transcribe.WithCloud(cloudChain(cloud)))

	_, err := g.Transcribe(context.Background(), pcmChunk(), "")
	if !errors.Is(err, transcribe.ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err = %v, should wrap the last cloud failure", err)
	}
}

func TestTranscribe_NoProviders(t *testing.T) {
	t.Parallel()

	_, err := transcribe.New().Transcribe(context.Background(), pcmChunk(), "")
	if !errors.Is(err, transcribe.ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestTranscribe_EmptyTextIsValid(t *testing.T) {
	t.Parallel()

	local := &sttmock.Provider{Result: stt.Result{Text: "   "}}
	g := transcribe.New(transcribe.WithLocal("whisper", localFrom(local)))

	res, err := g.Transcribe(context.Background(), pcmChunk(), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestTranscribe_LocalInitFailureIsCloudOnly(t *testing.T) {
	t.Parallel()

	var inits atomic.Int32
	factory := func() (stt.Provider, error) {
		inits.Add(1)
		return nil, errors.New("model file missing")
	}
	cloud := &sttmock.Provider{Result: stt.Result{Text: "cloud"}}
	g := transcribe.New(transcribe.WithLocal("whisper", factory), transcribe.WithCloud(cloudChain(cloud)))

	for range 3 {
		res, err := g.Transcribe(context.Background(), pcmChunk(), "")
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if res.Provider != "cloud-0" || res.Fallback {
			t.Errorf("result = %+v, want primary cloud result", res)
		}
	}
	if n := inits.Load(); n != 1 {
		t.Errorf("local factory called %d times, want 1", n)
	}
	if !g.Degraded() {
		t.Error("Degraded() = false after init failure")
	}
	if got := g.Providers(); !slices.Equal(got, []string{"whisper", "cloud-0"}) {
		t.Errorf("Providers = %v", got)
	}
}

func TestTranscribe_RejectsCompressedInput(t *testing.T) {
	t.Parallel()

	local := &sttmock.Provider{}
	g := transcribe.New(transcribe.WithLocal("whisper", localFrom(local)))
	_, err := g.Transcribe(context.Background(), audio.AudioChunk{Data: []byte("OggS"), Encoding: audio.EncodingOggOpus}, "")
	if !errors.Is(err, transcribe.ErrNotPCM) {
		t.Fatalf("err = %v, want ErrNotPCM", err)
	}
	if local.CallCount() != 0 {
		t.Error("provider called with compressed input")
	}
}

func TestTranscribe_CancelledSkipsCloud(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	local := &sttmock.Provider{TranscribeFunc: func(ctx context.Context, _ stt.Request) (stt.Result, error) {
		cancel()
		return stt.Result{}, ctx.Err()
	}}
	cloud := &sttmock.Provider{Result: stt.Result{Text: "late"}}
	g := transcribe.New(transcribe.WithLocal("whisper", localFrom(local)), transcribe.WithCloud(cloudChain(cloud)))

	_, err := g.Transcribe(ctx, pcmChunk(), "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if cloud.CallCount() != 0 {
		t.Error("cloud provider called after cancellation")
	}
}

func TestTranscribe_HungLocalFallsBackToCloud(t *testing.T) {
	t.Parallel()

	local := &sttmock.Provider{TranscribeFunc: func(ctx context.Context, _ stt.Request) (stt.Result, error) {
		<-ctx.Done()
		return stt.Result{}, ctx.Err()
	}}
	cloud := &sttmock.Provider{Result: stt.Result{Text: "hello there"}}
	g := transcribe.New(
		transcribe.WithLocal("whisper", localFrom(local)),
		transcribe.WithLocalTimeout(20*time.Millisecond),
		transcribe.WithCloud(cloudChain(cloud)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := g.Transcribe(ctx, pcmChunk(), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Provider != "cloud-0" || !res.Fallback {
		t.Errorf("result = %+v", res)
	}
	if cloud.CallCount() != 1 {
		t.Errorf("cloud calls = %d, want 1", cloud.CallCount())
	}
}

// providerRequests sums huddle.provider.requests per provider/status pair.
func providerRequests(t *testing.T, reader *sdkmetric.ManualReader) map[[2]string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[[2]string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "huddle.provider.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("requests data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				provider, _ := dp.Attributes.Value(attribute.Key("provider"))
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				got[[2]string{provider.AsString(), status.AsString()}] += dp.Value
			}
		}
	}
	return got
}

func TestTranscribe_RecordsLocalRequests(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	local := &sttmock.Provider{Err: errBoom}
	cloud := &sttmock.Provider{Result: stt.Result{Text: "ok"}}
	g := transcribe.New(
		transcribe.WithLocal("whisper", localFrom(local)),
		transcribe.WithCloud(cloudChain(cloud)),
		transcribe.WithMetrics(m),
	)
	if _, err := g.Transcribe(context.Background(), pcmChunk(), ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	local.Set(stt.Result{Text: "local"}, nil)
	if _, err := g.Transcribe(context.Background(), pcmChunk(), ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	got := providerRequests(t, reader)
	if got[[2]string{"whisper", "error"}] != 1 || got[[2]string{"whisper", "ok"}] != 1 {
		t.Errorf("local requests = %v, want one error and one ok", got)
	}
}
