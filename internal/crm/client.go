// Package crm talks to the amoCRM v4 REST API: contacts, leads (deals),
// notes, users and call recordings.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"call-notes-go/internal/logger"
	"call-notes-go/internal/types"
)

// ErrNotFound is returned when amoCRM answers 404 or 204 for an entity read.
var ErrNotFound = errors.New("crm: entity not found")

const defaultDealName = "Звонок"

type Options struct {
	Domain   string
	Token    string
	Timeout  time.Duration
	Managers map[int64]string
	// DealName is used for deals created from calls on contacts without an open deal.
	DealName string
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	managers map[int64]string
	dealName string
	log      *logger.Logger
}

func New(opts Options, log *logger.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := opts.Domain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	name := opts.DealName
	if name == "" {
		name = defaultDealName
	}
	return &Client{
		baseURL:  strings.TrimRight(base, "/") + "/api/v4",
		token:    opts.Token,
		http:     &http.Client{Timeout: timeout},
		managers: opts.Managers,
		dealName: name,
		log:      log.WithComponent("crm"),
	}
}

type contactResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (c *Client) GetContact(ctx context.Context, id int64) (types.Contact, error) {
	var resp contactResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/contacts/%d", id), nil, &resp); err != nil {
		return types.Contact{}, fmt.Errorf("get contact %d: %w", id, err)
	}
	return types.Contact{ID: resp.ID, Name: resp.Name}, nil
}

type leadResponse struct {
	ID                int64 `json:"id"`
	StatusID          int64 `json:"status_id"`
	ResponsibleUserID int64 `json:"responsible_user_id"`
	Embedded          struct {
		Contacts []struct {
			ID int64 `json:"id"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

func (c *Client) GetDeal(ctx context.Context, id int64) (types.Deal, error) {
	var resp leadResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/leads/%d?with=contacts", id), nil, &resp); err != nil {
		return types.Deal{}, fmt.Errorf("get deal %d: %w", id, err)
	}
	d := types.Deal{ID: resp.ID, StatusID: resp.StatusID, ResponsibleUserID: resp.ResponsibleUserID}
	for _, ct := range resp.Embedded.Contacts {
		d.ContactIDs = append(d.ContactIDs, ct.ID)
	}
	return d, nil
}

type linksResponse struct {
	Embedded struct {
		Links []struct {
			ToEntityID   int64  `json:"to_entity_id"`
			ToEntityType string `json:"to_entity_type"`
		} `json:"links"`
	} `json:"_embedded"`
}

// ListDealsLinkedToContact returns the ids of leads linked to a contact in
// ascending order. A contact without links yields an empty slice.
func (c *Client) ListDealsLinkedToContact(ctx context.Context, contactID int64) ([]int64, error) {
	var resp linksResponse
	path := fmt.Sprintf("/contacts/%d/links?filter[to_entity_type]=leads", contactID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list contact %d links: %w", contactID, err)
	}
	ids := make([]int64, 0, len(resp.Embedded.Links))
	for _, l := range resp.Embedded.Links {
		if l.ToEntityType == "leads" {
			ids = append(ids, l.ToEntityID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type newLead struct {
	Name              string `json:"name"`
	ResponsibleUserID int64  `json:"responsible_user_id,omitempty"`
	Embedded          struct {
		Contacts []struct {
			ID int64 `json:"id"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

// CreateDeal creates a lead attached to contactID. responsibleUserID 0 leaves
// the CRM default owner.
func (c *Client) CreateDeal(ctx context.Context, contactID, responsibleUserID int64) (int64, error) {
	lead := newLead{Name: c.dealName, ResponsibleUserID: responsibleUserID}
	lead.Embedded.Contacts = append(lead.Embedded.Contacts, struct {
		ID int64 `json:"id"`
	}{ID: contactID})

	var resp struct {
		Embedded struct {
			Leads []struct {
				ID int64 `json:"id"`
			} `json:"leads"`
		} `json:"_embedded"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/leads", []newLead{lead}, &resp); err != nil {
		return 0, fmt.Errorf("create deal for contact %d: %w", contactID, err)
	}
	if len(resp.Embedded.Leads) == 0 || resp.Embedded.Leads[0].ID == 0 {
		return 0, fmt.Errorf("create deal for contact %d: empty response", contactID)
	}
	id := resp.Embedded.Leads[0].ID
	c.log.WithField("contact_id", contactID).WithField("deal_id", id).Info("deal created")
	return id, nil
}

type noteRequest struct {
	NoteType string `json:"note_type"`
	Params   struct {
		Text string `json:"text"`
	} `json:"params"`
}

func (c *Client) WriteNote(ctx context.Context, dealID int64, text string) error {
	n := noteRequest{NoteType: "common"}
	n.Params.Text = text
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/leads/%d/notes", dealID), []noteRequest{n}, nil); err != nil {
		return fmt.Errorf("write note to deal %d: %w", dealID, err)
	}
	c.log.WithDeal(dealID).Info("note added")
	return nil
}

// UserName resolves a manager display name, preferring the configured map
// over an API lookup.
func (c *Client) UserName(ctx context.Context, userID int64) (string, error) {
	if name, ok := c.managers[userID]; ok {
		return name, nil
	}
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/users/"+strconv.FormatInt(userID, 10), nil, &resp); err != nil {
		return "", fmt.Errorf("get user %d: %w", userID, err)
	}
	return resp.Name, nil
}

// Download fetches a call recording. Links on the account domain need the
// bearer token; telephony provider links reject it, so a 401 is retried anonymously.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.get(ctx, url, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if resp, err = c.get(ctx, url, false); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download recording: status %d: %s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	c.log.WithField("bytes", len(data)).Info("recording downloaded")
	return data, nil
}

func (c *Client) get(ctx context.Context, url string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, target interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || (method == http.MethodGet && resp.StatusCode == http.StatusNoContent) {
		return ErrNotFound
	}
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("amocrm %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if target == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("json decode error: %v body=%s", err, string(raw))
	}
	return nil
}
