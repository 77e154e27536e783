// Package resolver collapses a call event that references a contact or a
// deal into the single open deal the call note belongs to.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"call-notes-go/internal/crm"
	"call-notes-go/internal/logger"
	"call-notes-go/internal/types"
)

// Terminal amoCRM pipeline statuses.
const (
	StatusWon  int64 = 142
	StatusLost int64 = 143
)

// CRM is the part of the CRM client the resolver reads and writes through.
type CRM interface {
	GetContact(ctx context.Context, id int64) (types.Contact, error)
	GetDeal(ctx context.Context, id int64) (types.Deal, error)
	ListDealsLinkedToContact(ctx context.Context, contactID int64) ([]int64, error)
	CreateDeal(ctx context.Context, contactID, responsibleUserID int64) (int64, error)
}

// ResolutionError means no deal could be chosen for the event. Callers must
// not fall back to another entity.
type ResolutionError struct {
	Op  string
	ID  int64
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s %d: %v", e.Op, e.ID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type Resolver struct {
	crm    CRM
	closed map[int64]bool
	log    *logger.Logger
}

func New(c CRM, log *logger.Logger) *Resolver {
	return &Resolver{
		crm:    c,
		closed: map[int64]bool{StatusWon: true, StatusLost: true},
		log:    log.WithComponent("resolver"),
	}
}

// IsClosed reports whether a deal status is terminal.
func (r *Resolver) IsClosed(statusID int64) bool {
	return r.closed[statusID]
}

// Resolve returns the deal to annotate. Deal events pass through untouched.
// For contacts the linked deals are checked in ascending id order and the
// first open one wins; with none open a new deal is created.
func (r *Resolver) Resolve(ctx context.Context, ev types.CallEvent) (types.ResolvedTarget, error) {
	switch ev.TargetKind {
	case types.TargetDeal:
		return types.ResolvedTarget{DealID: ev.RawTargetID}, nil
	case types.TargetContact:
		return r.resolveContact(ctx, ev)
	default:
		return types.ResolvedTarget{}, &ResolutionError{Op: "event", ID: ev.RawTargetID, Err: fmt.Errorf("unknown target kind %q", ev.TargetKind)}
	}
}

func (r *Resolver) resolveContact(ctx context.Context, ev types.CallEvent) (types.ResolvedTarget, error) {
	contactID := ev.RawTargetID
	log := r.log.With("contact_id", contactID)

	if _, err := r.crm.GetContact(ctx, contactID); err != nil {
		return types.ResolvedTarget{}, &ResolutionError{Op: "contact", ID: contactID, Err: err}
	}
	ids, err := r.crm.ListDealsLinkedToContact(ctx, contactID)
	if err != nil {
		return types.ResolvedTarget{}, &ResolutionError{Op: "contact links", ID: contactID, Err: err}
	}
	ids = append([]int64(nil), ids...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		deal, err := r.crm.GetDeal(ctx, id)
		if errors.Is(err, crm.ErrNotFound) {
			log.WithField("deal_id", id).Warn("linked deal not found, skipping")
			continue
		}
		if err != nil {
			return types.ResolvedTarget{}, &ResolutionError{Op: "deal", ID: id, Err: err}
		}
		if !r.IsClosed(deal.StatusID) {
			log.WithField("deal_id", id).Info("open deal found")
			return types.ResolvedTarget{DealID: id}, nil
		}
	}

	created, err := r.crm.CreateDeal(ctx, contactID, ev.ResponsibleUserID)
	if err != nil {
		return types.ResolvedTarget{}, &ResolutionError{Op: "create deal for contact", ID: contactID, Err: err}
	}
	log.WithField("deal_id", created).WithField("linked_deals", len(ids)).Info("no open deal, created a new one")
	return types.ResolvedTarget{DealID: created, WasCreated: true}, nil
}
