package extractor

import (
	"context"

	"call-notes-go/internal/types"
)

// Mock returns deterministic facts; enabled with USE_MOCK_LLM=true.
type Mock struct{}

func (Mock) Analyze(ctx context.Context, transcript string, direction types.CallDirection, managerHint string) (types.AnalysisResult, error) {
	if managerHint == "" {
		managerHint = "Менеджер"
	}
	return types.AnalysisResult{
		ClientName:      "Клиент",
		ManagerName:     managerHint,
		Summary:         "Клиент обратился по межеванию участка. Менеджер назвал стоимость и условия оплаты. Договорились о выезде.",
		City:            "Ставрополь",
		WorkType:        "Межевание",
		Cost:            "25 000 ₽",
		PaymentTerms:    "50/50",
		Outcome:         "Договорились",
		NextContactDate: "Не указано",
		NextSteps:       []string{"Подтвердить дату выезда", "Отправить договор"},
	}, nil
}
