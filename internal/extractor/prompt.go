package extractor

import (
	"strings"

	"call-notes-go/internal/types"
)

const systemPrompt = `Ты ассистент для анализа телефонных разговоров геодезической компании.

Твоя задача: извлечь ТОЛЬКО ФАКТЫ из транскрибации и вернуть структурированный JSON.
НЕЛЬЗЯ выдумывать. Если данных нет в тексте, пиши "Не указано" или "Не обсуждали" (как указано ниже).

Верни JSON со следующими полями:
{
  "client_name": "Имя клиента (как представился) или 'Клиент'",
  "manager_name": "Имя/ФИО менеджера из разговора или то, что передали в поле manager_name",
  "summary": "Короткое, понятное резюме: 3-5 предложений, без воды, без повторов. Что хотел клиент, что предложили, к чему пришли.",
  "client_city": "Город/регион или 'Не указано'",
  "work_type": "Тип работ или 'Консультация'",
  "cost": "Стоимость (например: '25 000 ₽') или 'Не обсуждали'",
  "payment_terms": "Условия оплаты (например: '50/50') или 'Не обсуждали'",
  "call_result": "Итог: 'Договорились'/'Клиент думает'/'Отказ'/'Перезвонить' и т.п. Если непонятно, то 'Не определено'",
  "next_contact_date": "Когда связаться (если было) иначе 'Не указано'",
  "next_steps": ["1-5 конкретных следующих шагов для менеджера по итогам разговора. Если нет, пустой массив []"]
}

Правила качества summary:
- Пиши человеческим языком, без канцелярита и без 'возможно/наверное'
- Не вставляй мусорные слова, не повторяй одну мысль
- Если в транскрибации каша или обрывки, формулируй только то, что точно ясно

Отвечай ТОЛЬКО JSON, без пояснений и без Markdown.`

// BuildUserPrompt renders the per-call message sent after the system prompt.
func BuildUserPrompt(transcript string, direction types.CallDirection, managerName string) string {
	var b strings.Builder
	b.WriteString("Проанализируй разговор между менеджером и клиентом.\n\n")
	b.WriteString("Тип звонка: " + direction.Label() + "\n")
	b.WriteString("Менеджер компании: " + managerName + "\n\n")
	b.WriteString("ТРАНСКРИБАЦИЯ РАЗГОВОРА:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String()
}
