// Package roles turns anonymous diarization labels into agent/customer roles.
package roles

import (
	"strings"

	"call-notes-go/internal/types"
)

// Keywords is the scoring table: phrase -> weight. Phrases are matched as
// case-folded substrings of everything a speaker said.
type Keywords struct {
	Agent    map[string]int
	Customer map[string]int
}

// DefaultKeywords are the phrases a sales manager and a caller typically use.
func DefaultKeywords() Keywords {
	return Keywords{
		Agent: map[string]int{
			"добрый день":            1,
			"здравствуйте":           1,
			"компания":               1,
			"меня зовут":             1,
			"чем могу помочь":        1,
			"по поводу вашей заявки": 1,
			"вы оставляли":           1,
			"давайте":                1,
			"предлагаю":              1,
			"стоимость":              1,
			"цена будет":             1,
		},
		Customer: map[string]int{
			"мне нужно":      1,
			"хочу":           1,
			"интересует":     1,
			"сколько стоит":  1,
			"какая цена":     1,
			"можете сделать": 1,
			"когда сможете":  1,
		},
	}
}

type Classifier struct {
	agent    map[string]int
	customer map[string]int
}

func NewClassifier(k Keywords) *Classifier {
	return &Classifier{
		agent:    foldKeys(k.Agent),
		customer: foldKeys(k.Customer),
	}
}

func foldKeys(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for phrase, w := range in {
		out[strings.ToLower(phrase)] += w
	}
	return out
}

// Score returns the agent and customer scores of an already case-folded text.
func (c *Classifier) Score(text string) (agent, customer int) {
	return score(text, c.agent), score(text, c.customer)
}

func score(text string, table map[string]int) int {
	total := 0
	for phrase, w := range table {
		if strings.Contains(text, phrase) {
			total += w
		}
	}
	return total
}

type speaker struct {
	label   string
	text    []string
	firstMs int64
}

// Classify assigns a role to every label in utts. Content scoring decides
// first; with exactly two labels that did not split into one agent and one
// customer, whoever spoke first becomes the agent.
func (c *Classifier) Classify(utts []types.Utterance) types.RoleAssignment {
	var order []*speaker
	byLabel := map[string]*speaker{}
	for _, u := range utts {
		s, ok := byLabel[u.SpeakerLabel]
		if !ok {
			s = &speaker{label: u.SpeakerLabel, firstMs: u.StartMs}
			byLabel[u.SpeakerLabel] = s
			order = append(order, s)
		}
		if u.StartMs < s.firstMs {
			s.firstMs = u.StartMs
		}
		s.text = append(s.text, strings.ToLower(u.Text))
	}

	out := make(types.RoleAssignment, len(order))
	agents := 0
	for _, s := range order {
		a, cu := c.Score(strings.Join(s.text, " "))
		if a > cu {
			out[s.label] = types.Agent
			agents++
		} else {
			out[s.label] = types.Customer
		}
	}

	if len(order) == 2 && agents != 1 {
		first, second := order[0], order[1]
		if second.firstMs < first.firstMs {
			first, second = second, first
		}
		out[first.label] = types.Agent
		out[second.label] = types.Customer
	}
	return out
}
