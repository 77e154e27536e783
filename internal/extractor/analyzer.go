// Package extractor turns a role-labelled transcript into structured call
// facts using an OpenAI-compatible chat completions endpoint.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-notes-go/internal/logger"
	"call-notes-go/internal/types"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxNextSteps   = 5
)

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// Truncator is optional; nil sends the transcript whole.
	Truncator *Truncator
}

type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	http        *http.Client
	truncator   *Truncator
	log         *logger.Logger
}

func New(opts Options, log *logger.Logger) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		http:        &http.Client{Timeout: opts.Timeout},
		truncator:   opts.Truncator,
		log:         log.WithComponent("extractor"),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = 60 * time.Second
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze asks the model for call facts. Content that is not a JSON object is
// returned as an error; there is no repair and no retry.
func (c *Client) Analyze(ctx context.Context, transcript string, direction types.CallDirection, managerHint string) (types.AnalysisResult, error) {
	log := c.log.WithField("chars", len([]rune(transcript)))

	if c.truncator != nil {
		if cut, ok := c.truncator.Truncate(transcript); ok {
			log.WithField("max_tokens", c.truncator.maxTokens).Info("transcript truncated for analysis")
			transcript = cut
		}
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildUserPrompt(transcript, direction, managerHint)},
		},
		Temperature:    c.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return types.AnalysisResult{}, err
	}
	log.WithField("payload_len", len(payload)).Debug("llm request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return types.AnalysisResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	log.WithField("http_status", resp.StatusCode).Debug("llm response")
	if resp.StatusCode >= 300 {
		return types.AnalysisResult{}, fmt.Errorf("llm status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("llm response decode: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return types.AnalysisResult{}, fmt.Errorf("llm response has no choices")
	}

	result, err := ParseAnalysis(parsed.Choices[0].Message.Content, managerHint)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	log.WithFields(logrus.Fields{
		"call_result": result.Outcome,
		"next_steps":  len(result.NextSteps),
	}).Info("analysis completed")
	return result, nil
}

type rawAnalysis struct {
	ClientName      string          `json:"client_name"`
	ManagerName     string          `json:"manager_name"`
	Summary         string          `json:"summary"`
	City            string          `json:"client_city"`
	WorkType        string          `json:"work_type"`
	Cost            string          `json:"cost"`
	PaymentTerms    string          `json:"payment_terms"`
	Outcome         string          `json:"call_result"`
	NextContactDate string          `json:"next_contact_date"`
	NextSteps       json.RawMessage `json:"next_steps"`
}

// ParseAnalysis decodes the model content and fills blank fields with defaults.
func ParseAnalysis(content, managerHint string) (types.AnalysisResult, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("llm content is not valid JSON: %w", err)
	}
	if managerHint == "" {
		managerHint = "Менеджер"
	}
	return types.AnalysisResult{
		ClientName:      orDefault(raw.ClientName, "Клиент"),
		ManagerName:     orDefault(raw.ManagerName, managerHint),
		Summary:         strings.TrimSpace(raw.Summary),
		City:            orDefault(raw.City, "Не указано"),
		WorkType:        orDefault(raw.WorkType, "Консультация"),
		Cost:            orDefault(raw.Cost, "Не обсуждали"),
		PaymentTerms:    orDefault(raw.PaymentTerms, "Не обсуждали"),
		Outcome:         orDefault(raw.Outcome, "Не определено"),
		NextContactDate: orDefault(raw.NextContactDate, "Не указано"),
		NextSteps:       NormalizeSteps(raw.NextSteps),
	}, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

var bulletPrefix = regexp.MustCompile(`^(?:[-•*]|\d+[.)])\s*`)

// NormalizeSteps accepts a JSON list or a bullet string and returns at most
// five trimmed, non-empty steps.
func NormalizeSteps(raw json.RawMessage) []string {
	var items []string

	var list []interface{}
	var text string
	switch {
	case len(raw) == 0:
		return nil
	case json.Unmarshal(raw, &list) == nil:
		for _, v := range list {
			if v == nil {
				continue
			}
			items = append(items, fmt.Sprint(v))
		}
	case json.Unmarshal(raw, &text) == nil:
		items = strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	default:
		return nil
	}

	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(bulletPrefix.ReplaceAllString(strings.TrimSpace(s), ""))
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxNextSteps {
			break
		}
	}
	return out
}
