// Package googlespeech provides a cloud STT provider backed by the Google
// Cloud Speech-to-Text v2 Recognize API.
//
// Each call sends one utterance as LINEAR16 content to the project's default
// recognizer ("_") in the configured location.
package googlespeech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/huddle/pkg/provider/stt"
)

const (
	speechAPIEndpointPort = 443
	cloudPlatformScope    = "https://www.googleapis.com/auth/cloud-platform"
	defaultLocation       = "global"
	defaultModel          = "short"
	defaultLanguage       = "en-US"
)

var _ stt.Provider = (*Provider)(nil)

// Config configures a Provider.
type Config struct {
	ProjectID string

	// CredentialsJSON is a service-account key. Empty uses application
	// default credentials.
	CredentialsJSON string

	// Location is the recognizer region, e.g. "global" or "europe-west4".
	Location string

	// Model is the recognition model, e.g. "short", "long", "chirp_2".
	Model string

	// Language is used when a request carries none.
	Language string
}

// recognizer is the subset of the Speech client used here.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

// clientRecognizer adapts *speech.Client to recognizer.
type clientRecognizer struct{ c *speech.Client }

func (r clientRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.c.Recognize(ctx, req)
}

func (r clientRecognizer) Close() error { return r.c.Close() }

// Provider implements stt.Provider. The gRPC client is dialled on first use
// and reused afterwards.
type Provider struct {
	cfg Config

	mu     sync.Mutex
	client recognizer
}

// New validates cfg and returns a Provider. No network I/O happens here.
func New(cfg Config) (*Provider, error) {
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	if cfg.ProjectID == "" {
		return nil, errors.New("googlespeech: project id must not be empty")
	}
	cfg.Location = strings.TrimSpace(cfg.Location)
	if cfg.Location == "" {
		cfg.Location = defaultLocation
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	return &Provider{cfg: cfg}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.PCM) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	client, err := p.recognizer(ctx)
	if err != nil {
		return stt.Result{}, err
	}

	lang := req.Language
	if lang == "" {
		lang = p.cfg.Language
	}
	resp, err := client.Recognize(ctx, p.buildRequest(req, lang))
	if err != nil {
		if st, ok := status.FromError(err); ok {
			return stt.Result{}, fmt.Errorf("googlespeech: recognize (%s): %w", st.Code(), err)
		}
		return stt.Result{}, fmt.Errorf("googlespeech: recognize: %w", err)
	}
	return collect(resp, lang), nil
}

// Close releases the gRPC client, if one was created.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func (p *Provider) recognizer(ctx context.Context) (recognizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	detect := &credentials.DetectOptions{Scopes: []string{cloudPlatformScope}}
	if p.cfg.CredentialsJSON != "" {
		detect.CredentialsJSON = []byte(p.cfg.CredentialsJSON)
	}
	creds, err := credentials.DetectDefault(detect)
	if err != nil {
		return nil, fmt.Errorf("googlespeech: detect credentials: %w", err)
	}
	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if p.cfg.Location != defaultLocation {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", p.cfg.Location, speechAPIEndpointPort)))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("googlespeech: new client: %w", err)
	}
	p.client = clientRecognizer{c: c}
	return p.client, nil
}

func (p *Provider) buildRequest(req stt.Request, lang string) *speechpb.RecognizeRequest {
	rate, channels := req.SampleRate, req.Channels
	if rate <= 0 {
		rate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &speechpb.RecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", p.cfg.ProjectID, p.cfg.Location),
		Config: &speechpb.RecognitionConfig{
			Model:         p.cfg.Model,
			LanguageCodes: []string{lang},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(rate),
					AudioChannelCount: int32(channels),
				},
			},
			Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: req.PCM},
	}
}

// collect joins the top alternative of every result and averages their
// confidence.
func collect(resp *speechpb.RecognizeResponse, lang string) stt.Result {
	var (
		parts []string
		conf  float64
		n     int
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
			conf += float64(alts[0].GetConfidence())
			n++
		}
		if lc := r.GetLanguageCode(); lc != "" {
			lang = lc
		}
	}
	res := stt.Result{Text: strings.Join(parts, " "), Language: lang}
	if n > 0 {
		res.Confidence = conf / float64(n)
	}
	return res
}
