// Package aggregator summarises a batch of pipeline outcomes.
package aggregator

import "call-notes-go/internal/pipeline"

// Insight keeps failures and gate aborts apart: FailedAt counts the stage
// that errored, AbortedBefore the stage a gate skipped.
type Insight struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	FailedAt      map[string]int `json:"failed_at"`
	AbortedBefore map[string]int `json:"aborted_before"`
	CreatedDeals  int            `json:"created_deals"`
	SuccessRate   float64        `json:"success_rate"`
}

func Aggregate(outcomes []pipeline.Outcome) Insight {
	ins := Insight{ByStatus: map[string]int{}, FailedAt: map[string]int{}, AbortedBefore: map[string]int{}}
	ok := 0
	for _, o := range outcomes {
		ins.Total++
		ins.ByStatus[string(o.Status)]++
		switch {
		case o.Status == pipeline.Succeeded:
			ok++
		case o.Stage == "":
		case o.Status == pipeline.Failed:
			ins.FailedAt[string(o.Stage)]++
		case o.Status == pipeline.Aborted:
			ins.AbortedBefore[string(o.Stage)]++
		}
		if o.WasCreated {
			ins.CreatedDeals++
		}
	}
	if ins.Total > 0 {
		ins.SuccessRate = float64(ok) / float64(ins.Total)
	}
	return ins
}
