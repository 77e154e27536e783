package transcription

import (
	"context"
	"strings"

	"call-notes-go/internal/types"
)

// Mock returns a fixed two-speaker conversation; enabled with USE_MOCK_TRANSCRIBE=true.
type Mock struct{}

func (Mock) Transcribe(ctx context.Context, audio []byte, language string) (types.Transcript, error) {
	utts := []types.Utterance{
		{SpeakerLabel: "A", Text: "Добрый день! Компания ГеоПлан, меня зовут Анна. Вы оставляли заявку на межевание?", StartMs: 0, EndMs: 6000},
		{SpeakerLabel: "B", Text: "Да, мне нужно отмежевать участок в Ставрополе. Сколько стоит?", StartMs: 6500, EndMs: 11000},
		{SpeakerLabel: "A", Text: "Стоимость будет 25 000 рублей, оплата 50 на 50. Давайте назначим выезд на четверг.", StartMs: 11500, EndMs: 18000},
		{SpeakerLabel: "B", Text: "Хорошо, договорились.", StartMs: 18500, EndMs: 20000},
	}
	texts := make([]string, 0, len(utts))
	for _, u := range utts {
		texts = append(texts, u.Text)
	}
	return types.Transcript{FullText: strings.Join(texts, " "), Utterances: utts, DurationSeconds: 20}, nil
}
