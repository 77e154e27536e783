package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"call-notes-go/internal/crm"
	"call-notes-go/internal/dedup"
	"call-notes-go/internal/logger"
	"call-notes-go/internal/notify"
	"call-notes-go/internal/resolver"
	"call-notes-go/internal/roles"
	"call-notes-go/internal/types"
)

// world is an in-memory CRM plus recording store.
type world struct {
	mu       sync.Mutex
	contacts map[int64]bool
	links    map[int64][]int64
	statuses map[int64]int64
	nextID   int64
	audio    []byte
	audioErr error
	noteErr  error
	users    map[int64]string

	creates   []int64
	notes     map[int64][]string
	downloads int
}

func newWorld() *world {
	return &world{
		contacts: map[int64]bool{},
		links:    map[int64][]int64{},
		statuses: map[int64]int64{},
		notes:    map[int64][]string{},
		users:    map[int64]string{},
	}
}

func (w *world) GetContact(_ context.Context, id int64) (types.Contact, error) {
	if !w.contacts[id] {
		return types.Contact{}, crm.ErrNotFound
	}
	return types.Contact{ID: id}, nil
}

func (w *world) GetDeal(_ context.Context, id int64) (types.Deal, error) {
	st, ok := w.statuses[id]
	if !ok {
		return types.Deal{}, crm.ErrNotFound
	}
	return types.Deal{ID: id, StatusID: st}, nil
}

func (w *world) ListDealsLinkedToContact(_ context.Context, id int64) ([]int64, error) {
	return w.links[id], nil
}

func (w *world) CreateDeal(_ context.Context, contactID, _ int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creates = append(w.creates, contactID)
	id := w.nextID
	w.nextID++
	w.statuses[id] = 1
	return id, nil
}

func (w *world) Download(context.Context, string) ([]byte, error) {
	w.mu.Lock()
	w.downloads++
	w.mu.Unlock()
	return w.audio, w.audioErr
}

func (w *world) WriteNote(_ context.Context, dealID int64, text string) error {
	if w.noteErr != nil {
		return w.noteErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes[dealID] = append(w.notes[dealID], text)
	return nil
}

func (w *world) UserName(_ context.Context, id int64) (string, error) {
	if n, ok := w.users[id]; ok {
		return n, nil
	}
	return "", crm.ErrNotFound
}

type fakeTranscriber struct {
	tr    types.Transcript
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (types.Transcript, error) {
	f.calls++
	return f.tr, f.err
}

type countingClassifier struct {
	inner *roles.Classifier
	calls int
}

func (c *countingClassifier) Classify(u []types.Utterance) types.RoleAssignment {
	c.calls++
	return c.inner.Classify(u)
}

type fakeAnalyzer struct {
	res        types.AnalysisResult
	err        error
	calls      int
	transcript string
	hint       string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, t string, _ types.CallDirection, hint string) (types.AnalysisResult, error) {
	f.calls++
	f.transcript, f.hint = t, hint
	return f.res, f.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Summary
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, s notify.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return f.err
}

type harness struct {
	world *world
	tr    *fakeTranscriber
	cls   *countingClassifier
	an    *fakeAnalyzer
	nt    *fakeNotifier
	orch  *Orchestrator
}

func twoSpeakerTranscript(chars int) types.Transcript {
	agent := "Добрый день, компания ГеоПлан, меня зовут Анна. Стоимость межевания двадцать пять тысяч. "
	customer := "Здравствуйте, мне нужно отмежевать участок, подскажите сроки. "
	var utts []types.Utterance
	var b strings.Builder
	ms := int64(0)
	for i := 0; b.Len() < chars*4; i++ {
		label, text := "A", agent
		if i%2 == 1 {
			label, text = "B", customer
		}
		utts = append(utts, types.Utterance{SpeakerLabel: label, Text: text, StartMs: ms, EndMs: ms + 4000})
		b.WriteString(text)
		ms += 4500
	}
	full := []rune(b.String())
	if len(full) > chars {
		full = full[:chars]
	}
	return types.Transcript{FullText: string(full), Utterances: utts, DurationSeconds: 95}
}

func newHarness() *harness {
	h := &harness{
		world: newWorld(),
		tr:    &fakeTranscriber{tr: twoSpeakerTranscript(600)},
		cls:   &countingClassifier{inner: roles.NewClassifier(roles.DefaultKeywords())},
		an: &fakeAnalyzer{res: types.AnalysisResult{
			ClientName: "Олег", ManagerName: "Анна", Summary: "Обсудили межевание.", City: "Ставрополь",
			WorkType: "Межевание", Cost: "25 000 ₽", PaymentTerms: "50/50", Outcome: "Договорились",
			NextContactDate: "Не указано",
		}},
		nt: &fakeNotifier{},
	}
	h.world.audio = make([]byte, 42600)
	h.orch = NewOrchestrator(Deps{
		Audio:      h.world,
		Transcribe: h.tr,
		Roles:      h.cls,
		Analyze:    h.an,
		Notes:      h.world,
		Notify:     h.nt,
		Users:      h.world,
	}, Options{Language: "ru"}, logger.Discard())
	return h
}

func TestEndToEndContactWithLostDeal(t *testing.T) {
	h := newHarness()
	h.world.contacts[501] = true
	h.world.links[501] = []int64{9001}
	h.world.statuses[9001] = resolver.StatusLost
	h.world.nextID = 9002
	h.world.users[77] = "Анна Петрова"

	d := NewDispatcher(dedup.NewGuard(10), resolver.New(h.world, logger.Discard()), h.orch, logger.Discard())
	ev := types.CallEvent{RawTargetID: 501, TargetKind: types.TargetContact, Direction: types.Outbound,
		RecordingURL: "https://rec/501.mp3", ResponsibleUserID: 77}

	out, accepted := d.RunSync(context.Background(), ev)
	if !accepted {
		t.Fatalf("expected event to be accepted")
	}
	if out.Status != Succeeded || out.Reached != Notified {
		t.Fatalf("expected succeeded/notified, got %+v", out)
	}
	if out.DealID != 9002 || !out.WasCreated {
		t.Fatalf("expected created deal 9002, got %+v", out)
	}
	if len(h.world.creates) != 1 || h.world.creates[0] != 501 {
		t.Fatalf("expected one deal created for contact 501, got %v", h.world.creates)
	}
	notes := h.world.notes[9002]
	if len(notes) != 1 || len(h.world.notes[9001]) != 0 {
		t.Fatalf("expected a single note on 9002, got %v", h.world.notes)
	}
	for _, want := range []string{"(менеджер)", "(клиент)", "Договорились", "1 мин 35 сек", "Исходящий"} {
		if !strings.Contains(notes[0], want) {
			t.Fatalf("expected %q in note:\n%s", want, notes[0])
		}
	}
	if !strings.Contains(h.an.transcript, "[Менеджер]:") || !strings.Contains(h.an.transcript, "[Клиент]:") {
		t.Fatalf("analysis input must carry role labels, got %q", h.an.transcript)
	}
	if h.an.hint != "Анна Петрова" {
		t.Fatalf("expected manager hint from directory, got %q", h.an.hint)
	}
	if len(h.nt.sent) != 1 || h.nt.sent[0].DealID != 9002 || h.nt.sent[0].Outcome != "Договорились" {
		t.Fatalf("unexpected notifications %+v", h.nt.sent)
	}
}

func TestSmallRecordingAbortsBeforeTranscription(t *testing.T) {
	h := newHarness()
	h.world.audio = make([]byte, 9999)

	out := h.orch.Run(context.Background(), types.ResolvedTarget{DealID: 1}, types.CallEvent{RecordingURL: "x"})
	if out.Status != Aborted || out.Reached != Fetched || out.Stage != StageTranscribe {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if h.tr.calls != 0 || len(h.nt.sent) != 0 || len(h.world.notes) != 0 {
		t.Fatalf("abort must not transcribe, notify or write (transcribe=%d notify=%d)", h.tr.calls, len(h.nt.sent))
	}

	h.world.audio = make([]byte, 10000)
	if out := h.orch.Run(context.Background(), types.ResolvedTarget{DealID: 1}, types.CallEvent{RecordingURL: "x"}); out.Status != Succeeded {
		t.Fatalf("10000 bytes must pass the gate, got %+v", out)
	}
}

func TestShortTranscriptAbortsBeforeRoles(t *testing.T) {
	h := newHarness()
	h.tr.tr = types.Transcript{FullText: strings.Repeat("д", 49)}

	out := h.orch.Run(context.Background(), types.ResolvedTarget{DealID: 1}, types.CallEvent{})
	if out.Status != Aborted || out.Reached != Transcribed || out.Stage != StageClassify {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if h.cls.calls != 0 || h.an.calls != 0 || len(h.nt.sent) != 0 {
		t.Fatalf("abort must stop before classification")
	}

	h.tr.tr = types.Transcript{FullText: strings.Repeat("д", 50)}
	if out := h.orch.Run(context.Background(), types.ResolvedTarget{DealID: 1}, types.CallEvent{}); out.Status != Succeeded {
		t.Fatalf("50 chars must pass the gate, got %+v", out)
	}
}

func TestStageFailureStopsRun(t *testing.T) {
	boom := errors.New("model unavailable")
	cases := []struct {
		stage Stage
		setup func(h *harness)
	}{
		{StageFetch, func(h *harness) { h.world.audioErr = boom }},
		{StageTranscribe, func(h *harness) { h.tr.err = boom }},
		{StageAnalyze, func(h *harness) { h.an.err = boom }},
		{StagePersist, func(h *harness) { h.world.noteErr = boom }},
	}
	for _, tc := range cases {
		h := newHarness()
		tc.setup(h)
		out := h.orch.Run(context.Background(), types.ResolvedTarget{DealID: 5}, types.CallEvent{})
		if out.Status != Failed || out.Stage != tc.stage || !errors.Is(out.Err, boom) {
			t.Fatalf("%s: unexpected outcome %+v", tc.stage, out)
		}
		var se *StageError
		if !errors.As(out.Err, &se) || se.Stage != tc.stage {
			t.Fatalf("%s: expected StageError, got %v", tc.stage, out.Err)
		}
		if len(h.nt.sent) != 0 || len(h.world.notes[5]) != 0 {
			t.Fatalf("%s: failed run must not write or notify", tc.stage)
		}
	}
}

func TestNotifyFailureKeepsNote(t *testing.T) {
	h := newHarness()
	h.nt.err = errors.New("telegram down")

	out := h.orch.Run(context.Background(), types.ResolvedTarget{DealID: 5}, types.CallEvent{})
	if out.Status != Failed || out.Stage != StageNotify || out.Reached != Persisted {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(h.world.notes[5]) != 1 {
		t.Fatalf("note must stay persisted")
	}
}

func TestManagerHintFallback(t *testing.T) {
	h := newHarness()
	h.orch.Run(context.Background(), types.ResolvedTarget{DealID: 5}, types.CallEvent{ResponsibleUserID: 404})
	if h.an.hint != "Менеджер" {
		t.Fatalf("expected fallback hint, got %q", h.an.hint)
	}
}

func TestDispatcherDropsDuplicates(t *testing.T) {
	h := newHarness()
	h.world.statuses[9001] = 1

	var mu sync.Mutex
	var outcomes []Outcome
	d := NewDispatcher(dedup.NewGuard(10), resolver.New(h.world, logger.Discard()), h.orch, logger.Discard())
	d.OnOutcome = func(_ types.CallEvent, o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	ev := types.CallEvent{RawTargetID: 9001, TargetKind: types.TargetDeal, RecordingURL: "https://rec/dup.mp3"}
	if !d.Submit(context.Background(), ev) {
		t.Fatalf("first delivery must be accepted")
	}
	if d.Submit(context.Background(), ev) {
		t.Fatalf("second delivery must be rejected")
	}
	if _, ok := d.RunSync(context.Background(), ev); ok {
		t.Fatalf("sync replay of a seen key must be rejected")
	}
	d.Wait()

	if len(outcomes) != 1 || h.world.downloads != 1 || len(h.world.notes[9001]) != 1 {
		t.Fatalf("expected exactly one run, got outcomes=%d downloads=%d", len(outcomes), h.world.downloads)
	}
}

func TestDispatcherResolutionFailure(t *testing.T) {
	h := newHarness()
	d := NewDispatcher(dedup.NewGuard(10), resolver.New(h.world, logger.Discard()), h.orch, logger.Discard())

	out, ok := d.RunSync(context.Background(), types.CallEvent{RawTargetID: 1, TargetKind: types.TargetContact, RecordingURL: "u"})
	if !ok || out.Status != Failed || out.Stage != StageResolve {
		t.Fatalf("unexpected outcome %+v", out)
	}
	var re *resolver.ResolutionError
	if !errors.As(out.Err, &re) {
		t.Fatalf("expected resolution error, got %v", out.Err)
	}
	if h.world.downloads != 0 {
		t.Fatalf("resolution failure must not fetch audio")
	}
}
