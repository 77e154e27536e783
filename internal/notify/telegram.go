package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"call-notes-go/internal/logger"
)

const telegramAPI = "https://api.telegram.org"

type TelegramOptions struct {
	Token   string
	ChatID  string
	BaseURL string
	Timeout time.Duration
}

type Telegram struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
	log     *logger.Logger
}

func NewTelegram(opts TelegramOptions, log *logger.Logger) *Telegram {
	t := &Telegram{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		chatID:  opts.ChatID,
		http:    &http.Client{Timeout: opts.Timeout},
		log:     log.WithComponent("telegram"),
	}
	if t.baseURL == "" {
		t.baseURL = telegramAPI
	}
	if t.http.Timeout <= 0 {
		t.http.Timeout = 30 * time.Second
	}
	return t
}

func (t *Telegram) Configured() bool {
	return t.token != "" && t.chatID != ""
}

// Notify sends the quiet "call processed" message.
func (t *Telegram) Notify(ctx context.Context, s Summary) error {
	text := fmt.Sprintf("✅ <b>Звонок обработан</b>\n\n"+
		"<b>Сделка:</b> #%d\n"+
		"<b>Клиент:</b> %s\n"+
		"<b>Длительность:</b> %s\n"+
		"<b>Итог:</b> %s",
		s.DealID, html.EscapeString(s.ClientName), ClockDuration(s.DurationSeconds), html.EscapeString(s.Outcome))
	return t.send(ctx, text, true)
}

func (t *Telegram) Startup(ctx context.Context) error {
	return t.send(ctx, "🟢 <b>Сервер транскрибации запущен</b>\n\nГотов принимать webhook от AmoCRM.", false)
}

func (t *Telegram) Shutdown(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "Плановая остановка"
	}
	return t.send(ctx, "🔴 <b>Сервер транскрибации остановлен</b>\n\n<b>Причина:</b> "+html.EscapeString(reason), false)
}

type sendMessageRequest struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification"`
}

func (t *Telegram) send(ctx context.Context, text string, quiet bool) error {
	if !t.Configured() {
		t.log.Warn("telegram not configured, skipping message")
		return nil
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: text, ParseMode: "HTML", DisableNotification: quiet})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, string(b))
	}
	t.log.Info("telegram message sent")
	return nil
}
