package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/brightboard/tutor-core/core/audio"
	"github.com/brightboard/tutor-core/core/texttospeech"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const speakURL = "https://api.deepgram.com/v1/speak"

type deepgramVoice string

const (
	VoiceAsteria deepgramVoice = "aura-asteria-en"
	VoiceOrion   deepgramVoice = "aura-orion-en"
	VoiceLuna    deepgramVoice = "aura-luna-en"
)

const defaultVoice = VoiceAsteria

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{VoiceAsteria, VoiceOrion, VoiceLuna}
}

// Voice converts a configured voice name into the typed voice id. The
// constructor validates it against the available voices.
func Voice(name string) deepgramVoice {
	return deepgramVoice(name)
}

// SynthesisClient requests speech over the REST speak endpoint, one request
// per sentence. Streaming synthesis is intentionally not used here: the
// batcher needs whole-sentence clips it can reorder by index.
type SynthesisClient struct {
	apiKey     string
	voice      deepgramVoice
	httpClient *http.Client
}

var _ texttospeech.Synthesizer = (*SynthesisClient)(nil)

func NewSynthesisClient(apiKey string, voice deepgramVoice) (*SynthesisClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if voice == "" {
		voice = defaultVoice
	}
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice")
	}

	return &SynthesisClient{
		apiKey: apiKey,
		voice:  voice,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}, nil
}

func (c *SynthesisClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}

func (c *SynthesisClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
	options := texttospeech.SynthesisOptions{
		Voice:        string(c.voice),
		EncodingInfo: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.voice", options.Voice),
		attribute.Int("request.text_length", len(text)),
	)

	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		err = fmt.Errorf("failed to marshal synthesis request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	query := url.Values{}
	query.Set("model", options.Voice)
	query.Set("encoding", options.EncodingInfo.Format.Name())
	query.Set("sample_rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	query.Set("container", "none")

	req, err := http.NewRequestWithContext(ctx, "POST", speakURL+"?"+query.Encode(), bytes.NewBuffer(body))
	if err != nil {
		err = fmt.Errorf("failed to create synthesis request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to request synthesis: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	encodedAudio, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read synthesized audio: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("response.audio_bytes", len(encodedAudio)))
	return encodedAudio, nil
}
