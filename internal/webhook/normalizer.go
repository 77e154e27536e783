// Package webhook turns amoCRM deliveries into CallEvents.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"call-notes-go/internal/types"
)

// amoCRM note types for call notes.
const (
	NoteInboundCall  = 10
	NoteOutboundCall = 11
)

// amoCRM element types a note can hang off.
const (
	ElementContact = 1
	ElementLead    = 2
)

var ErrMalformed = errors.New("malformed webhook")

var noteKey = regexp.MustCompile(`^notes\[add\]\[(\d+)\]\[(\w+)\](?:\[(\w+)\])?$`)

type rawNote struct {
	NoteType          flexInt         `json:"note_type"`
	ElementID         flexInt         `json:"element_id"`
	ElementType       flexInt         `json:"element_type"`
	ResponsibleUserID flexInt         `json:"responsible_user_id"`
	CreatedAt         flexInt         `json:"created_at"`
	Params            json.RawMessage `json:"params"`

	link, phone string
}

// FromForm extracts call events from a form-encoded amoCRM webhook. Notes that
// are not calls are ignored. Call notes missing a target or recording are
// reported in the returned error; the valid ones are still returned.
func FromForm(form url.Values, now time.Time) ([]types.CallEvent, error) {
	notes := map[int]*rawNote{}
	get := func(i int) *rawNote {
		n, ok := notes[i]
		if !ok {
			n = &rawNote{}
			notes[i] = n
		}
		return n
	}

	var errs []error
	for key, vals := range form {
		if len(vals) == 0 {
			continue
		}
		if key == "notes[add]" {
			list, err := decodeNoteList(vals[0])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for i := range list {
				n := list[i]
				notes[-1-i] = &n
			}
			continue
		}
		m := noteKey.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		n := get(idx)
		v := strings.TrimSpace(vals[0])
		var err error
		switch m[2] {
		case "note_type":
			err = n.NoteType.parse(v)
		case "element_id":
			err = n.ElementID.parse(v)
		case "element_type":
			err = n.ElementType.parse(v)
		case "responsible_user_id":
			err = n.ResponsibleUserID.parse(v)
		case "created_at":
			err = n.CreatedAt.parse(v)
		case "params":
			switch m[3] {
			case "link":
				n.link = v
			case "phone":
				n.phone = v
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err))
		}
	}

	idxs := make([]int, 0, len(notes))
	for i := range notes {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	var events []types.CallEvent
	for _, i := range idxs {
		ev, ok, err := notes[i].event(now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, errors.Join(errs...)
}

func decodeNoteList(s string) ([]rawNote, error) {
	s = strings.TrimSpace(s)
	var list []rawNote
	if strings.HasPrefix(s, "{") {
		var one rawNote
		if err := json.Unmarshal([]byte(s), &one); err != nil {
			return nil, fmt.Errorf("%w: notes[add]: %v", ErrMalformed, err)
		}
		list = []rawNote{one}
	} else if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, fmt.Errorf("%w: notes[add]: %v", ErrMalformed, err)
	}
	for i := range list {
		if len(list[i].Params) == 0 {
			continue
		}
		var p struct {
			Link  string `json:"link"`
			Phone string `json:"phone"`
		}
		if err := json.Unmarshal(list[i].Params, &p); err == nil {
			list[i].link, list[i].phone = strings.TrimSpace(p.Link), strings.TrimSpace(p.Phone)
		}
	}
	return list, nil
}

func (n *rawNote) event(now time.Time) (types.CallEvent, bool, error) {
	var dir types.CallDirection
	switch n.NoteType {
	case NoteInboundCall:
		dir = types.Inbound
	case NoteOutboundCall:
		dir = types.Outbound
	default:
		return types.CallEvent{}, false, nil
	}

	kind := types.TargetDeal
	switch n.ElementType {
	case 0, ElementLead:
	case ElementContact:
		kind = types.TargetContact
	default:
		return types.CallEvent{}, false, fmt.Errorf("%w: unsupported element_type %d", ErrMalformed, n.ElementType)
	}
	if n.ElementID <= 0 {
		return types.CallEvent{}, false, fmt.Errorf("%w: call note without element_id", ErrMalformed)
	}
	if n.link == "" {
		return types.CallEvent{}, false, fmt.Errorf("%w: call note %d without recording link", ErrMalformed, n.ElementID)
	}

	created := now
	if n.CreatedAt > 0 {
		created = time.Unix(int64(n.CreatedAt), 0)
	}
	return types.CallEvent{
		RawTargetID:       int64(n.ElementID),
		TargetKind:        kind,
		Direction:         dir,
		RecordingURL:      n.link,
		CreatedAt:         created.UTC(),
		ResponsibleUserID: int64(n.ResponsibleUserID),
		Phone:             n.phone,
	}, true, nil
}

// TestPayload is the manual trigger accepted on /webhook/test.
type TestPayload struct {
	LeadID            flexInt `json:"lead_id"`
	RecordURL         string  `json:"record_url"`
	CallType          string  `json:"call_type"`
	ResponsibleUserID flexInt `json:"responsible_user_id"`
}

// Event validates the payload and builds a deal-targeted CallEvent.
func (p TestPayload) Event(now time.Time) (types.CallEvent, error) {
	if p.LeadID <= 0 || strings.TrimSpace(p.RecordURL) == "" {
		return types.CallEvent{}, fmt.Errorf("%w: lead_id and record_url are required", ErrMalformed)
	}
	dir := types.Outbound
	if p.CallType != "" && !strings.Contains(p.CallType, "outgoing") {
		dir = types.Inbound
	}
	return types.CallEvent{
		RawTargetID:       int64(p.LeadID),
		TargetKind:        types.TargetDeal,
		Direction:         dir,
		RecordingURL:      strings.TrimSpace(p.RecordURL),
		CreatedAt:         now.UTC(),
		ResponsibleUserID: int64(p.ResponsibleUserID),
	}, nil
}

// flexInt accepts 42 or "42"; amoCRM sends both.
type flexInt int64

func (f *flexInt) parse(s string) error {
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*f = 0
		return nil
	}
	return f.parse(s)
}
