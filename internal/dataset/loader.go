// Package dataset reads call events from a spreadsheet for offline replay
// and writes the per-row results back out.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"call-notes-go/internal/types"
)

type columns struct {
	lead, contact, target, kind, callType, record, responsible, created int
}

func detect(header []string) columns {
	c := columns{-1, -1, -1, -1, -1, -1, -1, -1}
	set := func(p *int, i int) {
		if *p == -1 {
			*p = i
		}
	}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "record") || strings.Contains(l, "url") || strings.Contains(l, "link") || strings.Contains(l, "запис"):
			set(&c.record, i)
		case strings.Contains(l, "responsible") || strings.Contains(l, "manager") || strings.Contains(l, "ответствен"):
			set(&c.responsible, i)
		case strings.Contains(l, "call") && strings.Contains(l, "type") || strings.Contains(l, "direction") || strings.Contains(l, "звон"):
			set(&c.callType, i)
		case strings.Contains(l, "kind") || strings.Contains(l, "entity") || strings.Contains(l, "сущност"):
			set(&c.kind, i)
		case strings.Contains(l, "lead") || strings.Contains(l, "deal") || strings.Contains(l, "сделк"):
			set(&c.lead, i)
		case strings.Contains(l, "contact") || strings.Contains(l, "контакт"):
			set(&c.contact, i)
		case strings.Contains(l, "created") || strings.Contains(l, "date") || strings.Contains(l, "дата"):
			set(&c.created, i)
		case l == "id" || strings.Contains(l, "target"):
			set(&c.target, i)
		}
	}
	return c
}

// RowError points at a spreadsheet row that could not become an event.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

// Load reads the first sheet. Columns are matched by header text; rows
// without an http(s) recording link are skipped quietly, other invalid rows
// are returned as RowErrors.
func Load(path string) ([]types.CallEvent, []RowError, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil, fmt.Errorf("no data rows")
	}

	cols := detect(rows[0])
	if cols.record == -1 {
		return nil, nil, fmt.Errorf("no recording column in header %v", rows[0])
	}

	var out []types.CallEvent
	var bad []RowError
	for i, r := range rows[1:] {
		rowNum := i + 2
		cell := func(idx int) string {
			if idx >= 0 && idx < len(r) {
				return strings.TrimSpace(r[idx])
			}
			return ""
		}
		url := cell(cols.record)
		lower := strings.ToLower(url)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		ev, err := rowEvent(cell, cols, url)
		if err != nil {
			bad = append(bad, RowError{Row: rowNum, Err: err})
			continue
		}
		out = append(out, ev)
	}
	return out, bad, nil
}

func rowEvent(cell func(int) string, cols columns, url string) (types.CallEvent, error) {
	ev := types.CallEvent{RecordingURL: url, Direction: types.Outbound, CreatedAt: time.Now().UTC()}

	kind := strings.ToLower(cell(cols.kind))
	idText := ""
	switch {
	case cell(cols.lead) != "":
		ev.TargetKind, idText = types.TargetDeal, cell(cols.lead)
	case cell(cols.contact) != "":
		ev.TargetKind, idText = types.TargetContact, cell(cols.contact)
	case cell(cols.target) != "":
		ev.TargetKind, idText = types.TargetDeal, cell(cols.target)
		if strings.HasPrefix(kind, "contact") || strings.HasPrefix(kind, "контакт") {
			ev.TargetKind = types.TargetContact
		}
	default:
		return ev, fmt.Errorf("no target id")
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || id <= 0 {
		return ev, fmt.Errorf("bad target id %q", idText)
	}
	ev.RawTargetID = id

	if ct := strings.ToLower(cell(cols.callType)); strings.Contains(ct, "incoming") || strings.Contains(ct, "inbound") || strings.Contains(ct, "вход") || ct == "10" {
		ev.Direction = types.Inbound
	}
	if v := cell(cols.responsible); v != "" {
		uid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ev, fmt.Errorf("bad responsible user id %q", v)
		}
		ev.ResponsibleUserID = uid
	}
	if v := cell(cols.created); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			ev.CreatedAt = time.Unix(ts, 0).UTC()
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			ev.CreatedAt = t.UTC()
		}
	}
	return ev, nil
}
