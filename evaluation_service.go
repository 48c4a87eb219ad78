package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	evaluatePath   = "/api/speech/evaluate-pronunciation"
	synthesizePath = "/api/speech/kokoro/synthesize"

	uploadFileName    = "recording.wav"
	uploadContentType = "audio/wav"

	maxErrorBodyLen = 200
)

// EvaluationClient scores a recording against the phrase the learner read.
type EvaluationClient interface {
	Evaluate(ctx context.Context, wav []byte, targetText string) (EvaluationResult, error)
}

// ReferenceSynthesizer produces a spoken WAV reading of text.
type ReferenceSynthesizer interface {
	Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error)
}

// evaluationResponse is the server's JSON body. Results is a pointer so an
// absent field can be told apart from an empty list.
type evaluationResponse struct {
	Results *[]WordResult `json:"results"`
}

// HTTPEvaluationClient talks to the pronunciation server over HTTP.
// Failures come back as *SessionError of kind NetworkFailure or ServerError.
type HTTPEvaluationClient struct {
	client *resty.Client
	log    *zap.SugaredLogger
}

// NewEvaluationClient builds a client for cfg.BaseURL with the configured timeouts.
func NewEvaluationClient(cfg ServerConfig, log *zap.SugaredLogger) *HTTPEvaluationClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTransport(transport).
		SetTimeout(cfg.ConnectTimeout+cfg.ReadTimeout+cfg.WriteTimeout).
		SetHeader("Accept", "application/json").
		SetLogger(log)

	return &HTTPEvaluationClient{client: client, log: log}
}

// newEvaluationClientWithResty wires a preconfigured resty client (tests only).
func newEvaluationClientWithResty(c *resty.Client, log *zap.SugaredLogger) *HTTPEvaluationClient {
	return &HTTPEvaluationClient{client: c, log: log}
}

// Evaluate uploads wav as the multipart part "audio" together with the
// "target_text" field and decodes the per-word results.
func (c *HTTPEvaluationClient) Evaluate(ctx context.Context, wav []byte, targetText string) (EvaluationResult, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetMultipartField("audio", uploadFileName, uploadContentType, bytes.NewReader(wav)).
		SetMultipartFormData(map[string]string{"target_text": targetText}).
		Post(evaluatePath)
	if err != nil {
		return nil, newSessionError(ErrorNetworkFailure, err, "upload failed")
	}
	if !resp.IsSuccess() {
		return nil, newSessionError(ErrorServerError, nil,
			"server returned %d: %s", resp.StatusCode(), truncate(string(resp.Body()), maxErrorBodyLen))
	}

	var body evaluationResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, newSessionError(ErrorServerError, err, "malformed response")
	}
	if body.Results == nil {
		return nil, newSessionError(ErrorServerError, nil, "malformed response: missing results")
	}

	c.log.Infof("evaluated %d bytes of audio in %s — %d words scored",
		len(wav), resp.Time().Round(time.Millisecond), len(*body.Results))
	return EvaluationResult(*body.Results), nil
}

// Synthesize asks the server for a reference reading of text as WAV bytes.
func (c *HTTPEvaluationClient) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", uploadContentType).
		SetFormData(map[string]string{
			"text":  text,
			"lang":  lang,
			"voice": voice,
		}).
		Post(synthesizePath)
	if err != nil {
		return nil, newSessionError(ErrorNetworkFailure, err, "synthesize request failed")
	}
	if !resp.IsSuccess() {
		return nil, newSessionError(ErrorServerError, nil,
			"synthesize returned %d: %s", resp.StatusCode(), truncate(string(resp.Body()), maxErrorBodyLen))
	}
	c.log.Debugf("synthesized %q (%s/%s): %d bytes", text, lang, voice, len(resp.Body()))
	return resp.Body(), nil
}

// truncate keeps at most n bytes of s, cut back to a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s… (%d bytes)", s[:cut], len(s))
}
