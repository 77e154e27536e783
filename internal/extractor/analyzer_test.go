package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"call-notes-go/internal/logger"
	"call-notes-go/internal/types"
)

func completion(content string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return b
}

func TestAnalyzeSendsPromptAndParses(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write(completion(`{"client_name":"Иван","summary":"Обсудили межевание.","call_result":"Договорились","next_steps":["Отправить КП"]}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "sk", Temperature: 0.1}, logger.Discard())
	res, err := c.Analyze(context.Background(), "[Менеджер]: Добрый день", types.Outbound, "Анна")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Model != defaultModel || got.ResponseFormat["type"] != "json_object" || got.Temperature != 0.1 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || !strings.Contains(got.Messages[1].Content, "Тип звонка: Исходящий") ||
		!strings.Contains(got.Messages[1].Content, "Менеджер компании: Анна") {
		t.Fatalf("unexpected user prompt %+v", got.Messages)
	}
	if res.ClientName != "Иван" || res.ManagerName != "Анна" || res.City != "Не указано" || res.Outcome != "Договорились" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(res.NextSteps, []string{"Отправить КП"}) {
		t.Fatalf("unexpected steps %v", res.NextSteps)
	}
}

func TestAnalyzeRejectsNonJSONContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion("Вот результат: {\"summary\": \"x\"}"))
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL}, logger.Discard()).Analyze(context.Background(), "t", types.Inbound, "")
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("expected hard JSON failure, got %v", err)
	}
}

func TestAnalyzeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL}, logger.Discard()).Analyze(context.Background(), "t", types.Inbound, "")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestParseAnalysisDefaults(t *testing.T) {
	res, err := ParseAnalysis(`{}`, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := types.AnalysisResult{
		ClientName:      "Клиент",
		ManagerName:     "Менеджер",
		City:            "Не указано",
		WorkType:        "Консультация",
		Cost:            "Не обсуждали",
		PaymentTerms:    "Не обсуждали",
		Outcome:         "Не определено",
		NextContactDate: "Не указано",
	}
	if !reflect.DeepEqual(res, want) {
		t.Fatalf("got %+v want %+v", res, want)
	}
}

func TestNormalizeSteps(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"list", `[" a ", "b", "", "  "]`, []string{"a", "b"}},
		{"bullets", `"- один\n- два\n\n• три\n1) четыре\n2. пять"`, []string{"один", "два", "три", "четыре", "пять"}},
		{"null", `null`, nil},
		{"capped", `["1","2","3","4","5","6"]`, []string{"1", "2", "3", "4", "5"}},
	}
	for _, tc := range cases {
		got := NormalizeSteps(json.RawMessage(tc.raw))
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestTruncatorKeepsHeadAndTail(t *testing.T) {
	tr, err := NewTruncator(60)
	if err != nil {
		t.Fatalf("tokenizer: %v", err)
	}
	text := "НАЧАЛО разговора. " + strings.Repeat("клиент говорит про участок и границы. ", 200) + "КОНЕЦ разговора."

	cut, ok := tr.Truncate(text)
	if !ok {
		t.Fatalf("expected truncation")
	}
	if !strings.HasPrefix(cut, "НАЧАЛО") || !strings.HasSuffix(cut, "КОНЕЦ разговора.") || !strings.Contains(cut, "опущена") {
		t.Fatalf("unexpected truncated text %q", cut)
	}
	if tr.Count(cut) >= tr.Count(text) {
		t.Fatalf("expected fewer tokens after truncation")
	}

	short, ok := tr.Truncate("короткий текст")
	if ok || short != "короткий текст" {
		t.Fatalf("short text must pass through, got %q", short)
	}
}
