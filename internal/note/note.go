// Package note renders the call summary written to the CRM deal.
package note

import (
	"fmt"
	"strings"

	"call-notes-go/internal/types"
)

type Input struct {
	Direction       types.CallDirection
	DurationSeconds float64
	Analysis        types.AnalysisResult
	// ManagerHint is shown when the analysis did not name the manager.
	ManagerHint string
}

// Duration renders "M мин S сек", or "S сек" under a minute.
func Duration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	m, s := total/60, total%60
	if m > 0 {
		return fmt.Sprintf("%d мин %d сек", m, s)
	}
	return fmt.Sprintf("%d сек", s)
}

// Format builds the note text. Field order is fixed.
func Format(in Input) string {
	a := in.Analysis
	manager := a.ManagerName
	if strings.TrimSpace(manager) == "" {
		manager = in.ManagerHint
	}

	var b strings.Builder
	b.WriteString("🎙️ АНАЛИЗ ЗВОНКА (AI)\n\n")
	fmt.Fprintf(&b, "📞 %s | %s\n\n", in.Direction.Label(), Duration(in.DurationSeconds))
	b.WriteString("Спикеры:\n")
	fmt.Fprintf(&b, "- %s (менеджер)\n", manager)
	fmt.Fprintf(&b, "- %s (клиент)\n\n", a.ClientName)
	fmt.Fprintf(&b, "Суть:\n%s\n\n", a.Summary)
	fmt.Fprintf(&b, "📍 Город: %s\n", a.City)
	fmt.Fprintf(&b, "🔧 Работа: %s\n", a.WorkType)
	fmt.Fprintf(&b, "💰 Стоимость: %s\n", a.Cost)
	fmt.Fprintf(&b, "💳 Оплата: %s\n", a.PaymentTerms)
	fmt.Fprintf(&b, "📊 Итог: %s\n", a.Outcome)
	fmt.Fprintf(&b, "📅 Следующий контакт: %s", a.NextContactDate)
	if len(a.NextSteps) > 0 {
		b.WriteString("\n\n✅ Следующие шаги:")
		for _, s := range a.NextSteps {
			fmt.Fprintf(&b, "\n- %s", s)
		}
	}
	return b.String()
}
