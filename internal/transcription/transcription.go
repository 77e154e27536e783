// Package transcription sends call audio to AssemblyAI and returns a
// diarized transcript.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-notes-go/internal/logger"
	"call-notes-go/internal/types"
)

const defaultBaseURL = "https://api.assemblyai.com"

var errNotReady = errors.New("transcript not ready")

type Options struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
}

type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
	log          *logger.Logger
}

func New(opts Options, log *logger.Logger) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		http:         &http.Client{Timeout: opts.Timeout},
		pollInterval: opts.PollInterval,
		maxWait:      opts.MaxWait,
		log:          log.WithComponent("transcription"),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = 60 * time.Second
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 3 * time.Second
	}
	if c.maxWait <= 0 {
		c.maxWait = 15 * time.Minute
	}
	return c
}

type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	LanguageCode  string `json:"language_code,omitempty"`
	SpeakerLabels bool   `json:"speaker_labels"`
	Punctuate     bool   `json:"punctuate"`
	FormatText    bool   `json:"format_text"`
}

type transcriptResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"` // queued, processing, completed, error
	Error         string  `json:"error"`
	Text          string  `json:"text"`
	AudioDuration float64 `json:"audio_duration"`
	Utterances    []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
	} `json:"utterances"`
}

// Transcribe uploads audio, requests a diarized transcript and waits for it.
func (c *Client) Transcribe(ctx context.Context, audio []byte, language string) (types.Transcript, error) {
	log := c.log.WithField("audio_bytes", len(audio))

	uploadURL, err := c.upload(ctx, audio)
	if err != nil {
		return types.Transcript{}, err
	}
	id, err := c.submit(ctx, uploadURL, language)
	if err != nil {
		return types.Transcript{}, err
	}
	log = log.WithField("transcript_id", id)
	log.Info("transcription queued")

	res, err := c.poll(ctx, id, log)
	if err != nil {
		return types.Transcript{}, err
	}
	tr := toTranscript(res)
	log.WithFields(logrus.Fields{
		"chars":      len([]rune(tr.FullText)),
		"utterances": len(tr.Utterances),
		"duration_s": tr.DurationSeconds,
	}).Info("transcription completed")
	return tr, nil
}

func (c *Client) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	var resp struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	if resp.UploadURL == "" {
		return "", fmt.Errorf("upload audio: empty upload_url")
	}
	return resp.UploadURL, nil
}

func (c *Client) submit(ctx context.Context, audioURL, language string) (string, error) {
	body, _ := json.Marshal(transcriptRequest{
		AudioURL:      audioURL,
		LanguageCode:  language,
		SpeakerLabels: true,
		Punctuate:     true,
		FormatText:    true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var resp transcriptResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("submit transcript: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit transcript: empty id")
	}
	return resp.ID, nil
}

// poll repeats only while the provider reports the job as unfinished; a
// transport error or a failed job ends the wait immediately.
func (c *Client) poll(ctx context.Context, id string, log *logrus.Entry) (transcriptResponse, error) {
	var out transcriptResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+id, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		var s transcriptResponse
		if err := c.doJSON(req, &s); err != nil {
			return backoff.Permanent(fmt.Errorf("poll transcript %s: %w", id, err))
		}
		log.WithField("status", s.Status).Debug("polling transcription")
		switch s.Status {
		case "completed":
			out = s
			return nil
		case "error":
			return backoff.Permanent(fmt.Errorf("transcription failed: %s", s.Error))
		default:
			return errNotReady
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.Multiplier = 1.5
	b.MaxInterval = 4 * c.pollInterval
	b.MaxElapsedTime = c.maxWait
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, errNotReady) {
			return out, fmt.Errorf("transcription timeout after %s", c.maxWait)
		}
		return out, err
	}
	return out, nil
}

func toTranscript(r transcriptResponse) types.Transcript {
	tr := types.Transcript{FullText: r.Text, DurationSeconds: r.AudioDuration}
	for _, u := range r.Utterances {
		tr.Utterances = append(tr.Utterances, types.Utterance{
			SpeakerLabel: u.Speaker,
			Text:         u.Text,
			StartMs:      u.Start,
			EndMs:        u.End,
		})
	}
	if tr.DurationSeconds == 0 && len(tr.Utterances) > 0 {
		tr.DurationSeconds = float64(tr.Utterances[len(tr.Utterances)-1].EndMs) / 1000
	}
	return tr
}

func (c *Client) doJSON(req *http.Request, target interface{}) error {
	req.Header.Set("Authorization", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("assemblyai status %d: %s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return fmt.Errorf("empty body")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("json decode error: %v body=%s", err, string(body))
	}
	return nil
}
