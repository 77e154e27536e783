package crm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"call-notes-go/internal/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{Domain: srv.URL, Token: "tok", Managers: map[int64]string{7: "Елена"}}, logger.Discard())
}

func TestGetDeal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/leads/9001" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		_, _ = w.Write([]byte(`{"id":9001,"status_id":143,"responsible_user_id":7,"_embedded":{"contacts":[{"id":501}]}}`))
	})
	d, err := c.GetDeal(context.Background(), 9001)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if d.StatusID != 143 || len(d.ContactIDs) != 1 || d.ContactIDs[0] != 501 {
		t.Fatalf("unexpected deal: %+v", d)
	}
}

func TestNotFoundIsDistinguishable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v4/contacts/1") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := c.GetContact(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err := c.GetContact(context.Background(), 2)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestListDealsLinkedToContactSorted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/contacts/501/links" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"_embedded":{"links":[
			{"to_entity_id":30,"to_entity_type":"leads"},
			{"to_entity_id":5,"to_entity_type":"companies"},
			{"to_entity_id":10,"to_entity_type":"leads"}]}}`))
	})
	ids, err := c.ListDealsLinkedToContact(context.Background(), 501)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 30 {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestCreateDeal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v4/leads" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"contacts":[{"id":501}]`) || !strings.Contains(string(body), `"responsible_user_id":7`) {
			t.Fatalf("unexpected body: %s", body)
		}
		_, _ = w.Write([]byte(`{"_embedded":{"leads":[{"id":9002}]}}`))
	})
	id, err := c.CreateDeal(context.Background(), 501, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 9002 {
		t.Fatalf("unexpected id %d", id)
	}
}

func TestCreateDealEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_embedded":{"leads":[]}}`))
	})
	if _, err := c.CreateDeal(context.Background(), 501, 0); err == nil {
		t.Fatalf("expected error on empty create response")
	}
}

func TestWriteNote(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/leads/9002/notes" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		_, _ = w.Write([]byte(`{}`))
	})
	if err := c.WriteNote(context.Background(), 9002, "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(got, `"note_type":"common"`) || !strings.Contains(got, `"text":"hello"`) {
		t.Fatalf("unexpected note body: %s", got)
	}
}

func TestUserNamePrefersConfiguredManagers(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"name":"Дмитрий"}`))
	})
	if name, _ := c.UserName(context.Background(), 7); name != "Елена" || calls != 0 {
		t.Fatalf("expected configured name without api call, got %s (%d calls)", name, calls)
	}
	if name, _ := c.UserName(context.Background(), 8); name != "Дмитрий" || calls != 1 {
		t.Fatalf("expected api name, got %s (%d calls)", name, calls)
	}
}

func TestDownloadRetriesAnonymouslyOn401(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ID3audio"))
	})
	data, err := c.Download(context.Background(), c.baseURL+"/../rec.mp3")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "ID3audio" || attempts != 2 {
		t.Fatalf("unexpected download result %q after %d attempts", data, attempts)
	}
}
