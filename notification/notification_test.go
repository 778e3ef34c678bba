package notification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	"fidexa/db"
	"fidexa/deal"
)

type fakeRepo struct {
	rows []Notification
}

func (f *fakeRepo) Insert(_ context.Context, _ db.Querier, n Notification) (Notification, error) {
	n.ID = "n-" + string(rune('a'+len(f.rows)))
	f.rows = append(f.rows, n)
	return n, nil
}

func (f *fakeRepo) List(_ context.Context, _ db.Querier, userID string, unreadOnly bool, _ int) ([]Notification, error) {
	var out []Notification
	for _, n := range f.rows {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkRead(_ context.Context, _ db.Querier, userID, id string) error {
	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].UserID == userID {
			f.rows[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func TestDealChangedNotifiesProvider(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(nil, repo)
	d := deal.Deal{ID: "deal-1", ProviderID: "prov-1", Title: "Logo", Status: deal.StatusDispute}

	var tx pgx.Tx
	if err := svc.DealChanged(context.Background(), tx, d, deal.HistoryEntry{Event: deal.EventOpenDispute, Note: "fichiers manquants"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected one notification")
	}
	n := repo.rows[0]
	if n.UserID != "prov-1" || n.Type != TypeWarning || n.Title != "Litige ouvert" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Link == nil || *n.Link != "/dashboard/deals/deal-1" {
		t.Fatalf("unexpected link: %v", n.Link)
	}
	if !strings.Contains(n.Message, "fichiers manquants") {
		t.Fatalf("note should be in the message: %q", n.Message)
	}
}

func TestEveryEventHasATemplate(t *testing.T) {
	for _, tr := range deal.Transitions() {
		if _, ok := templates[tr.Event]; !ok {
			t.Errorf("no notification template for %s", tr.Event)
		}
	}
}

func TestMarkRead(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(nil, repo)
	_ = svc.DealChanged(context.Background(), nil, deal.Deal{ID: "d", ProviderID: "prov-1"}, deal.HistoryEntry{Event: deal.EventStartWork})

	if err := svc.MarkRead(context.Background(), "prov-2", repo.rows[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other users cannot mark read, got %v", err)
	}
	if err := svc.MarkRead(context.Background(), "prov-1", repo.rows[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, _ := svc.List(context.Background(), "prov-1", true, 10)
	if len(unread) != 0 {
		t.Fatalf("expected no unread notifications")
	}
}
