// Package fakes holds in-memory implementations of the persistence and
// directory ports. Transactions are serialized and roll back on error, which
// is enough to exercise the services' atomicity and idempotence behaviour.
package fakes

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

type state struct {
	obligations   map[string]*domain.Obligation
	batches       map[string]*domain.Batch
	payments      map[string]*domain.Payment
	notifications map[string]*domain.Notification
	companies     map[string]*domain.Company
	payees        map[string]*domain.Payee
	recipients    map[string]*domain.Recipient
	elections     map[string]*domain.EquityElection
	rules         map[string]domain.JurisdictionRule
	order         []string
}

// Store is the shared backing state of every fake repository
type Store struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	data   state
	faults map[string]error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		data: state{
			obligations:   map[string]*domain.Obligation{},
			batches:       map[string]*domain.Batch{},
			payments:      map[string]*domain.Payment{},
			notifications: map[string]*domain.Notification{},
			companies:     map[string]*domain.Company{},
			payees:        map[string]*domain.Payee{},
			recipients:    map[string]*domain.Recipient{},
			elections:     map[string]*domain.EquityElection{},
			rules:         map[string]domain.JurisdictionRule{},
		},
		faults: map[string]error{},
	}
}

// FailOn makes the named operation (for example "batches.Create") return err
// until ClearFaults is called.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// ClearFaults removes every injected failure
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = map[string]error{}
}

func (s *Store) fault(op string) error {
	return s.faults[op]
}

// GetDB satisfies ports.DBPort
func (s *Store) GetDB() *pgxpool.Pool {
	return nil
}

// WithTransaction serializes fn against other transactions and restores
// the previous state when fn returns an error or panics.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			s.mu.Lock()
			s.data = snapshot
			s.mu.Unlock()
		}
	}()

	if err = fn(ctx, nil); err != nil {
		return err
	}
	committed = true
	return nil
}

// WithReadOnlyTransaction runs fn without snapshotting
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// openObligations indexes obligations covered by a non-terminal payment.
// Callers hold s.mu.
func (s *Store) openObligations() map[string]bool {
	open := map[string]bool{}
	for _, p := range s.data.payments {
		if p.State.IsTerminal() {
			continue
		}
		for _, id := range p.ObligationIDs {
			open[id] = true
		}
	}
	return open
}

func (d state) clone() state {
	c := state{
		obligations:   make(map[string]*domain.Obligation, len(d.obligations)),
		batches:       make(map[string]*domain.Batch, len(d.batches)),
		payments:      make(map[string]*domain.Payment, len(d.payments)),
		notifications: make(map[string]*domain.Notification, len(d.notifications)),
		companies:     make(map[string]*domain.Company, len(d.companies)),
		payees:        make(map[string]*domain.Payee, len(d.payees)),
		recipients:    make(map[string]*domain.Recipient, len(d.recipients)),
		elections:     make(map[string]*domain.EquityElection, len(d.elections)),
		rules:         make(map[string]domain.JurisdictionRule, len(d.rules)),
		order:         append([]string(nil), d.order...),
	}
	for k, v := range d.obligations {
		c.obligations[k] = cloneObligation(v)
	}
	for k, v := range d.batches {
		c.batches[k] = cloneBatch(v)
	}
	for k, v := range d.payments {
		c.payments[k] = clonePayment(v)
	}
	for k, v := range d.notifications {
		n := *v
		c.notifications[k] = &n
	}
	for k, v := range d.companies {
		x := *v
		c.companies[k] = &x
	}
	for k, v := range d.payees {
		x := *v
		c.payees[k] = &x
	}
	for k, v := range d.recipients {
		x := *v
		c.recipients[k] = &x
	}
	for k, v := range d.elections {
		x := *v
		c.elections[k] = &x
	}
	for k, v := range d.rules {
		c.rules[k] = v
	}
	return c
}

func cloneObligation(o *domain.Obligation) *domain.Obligation {
	c := *o
	c.Approvers = append([]string(nil), o.Approvers...)
	if o.BatchID != nil {
		id := *o.BatchID
		c.BatchID = &id
	}
	if o.RetainedReason != nil {
		r := *o.RetainedReason
		c.RetainedReason = &r
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

func cloneBatch(b *domain.Batch) *domain.Batch {
	c := *b
	c.ObligationIDs = append([]string(nil), b.ObligationIDs...)
	return &c
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	c.ObligationIDs = append([]string(nil), p.ObligationIDs...)
	return &c
}

// Seeding helpers

func (s *Store) PutCompany(c domain.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.companies[c.ID] = &c
}

func (s *Store) PutPayee(p domain.Payee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.payees[p.ID] = &p
}

func (s *Store) PutRecipient(r domain.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.recipients[r.ID] = &r
}

func (s *Store) PutElection(e domain.EquityElection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.elections[electionKey(e.PayeeID, e.Year)] = &e
}

func (s *Store) PutRule(r domain.JurisdictionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rules[r.CountryCode] = r
}

func (s *Store) PutObligation(o *domain.Obligation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.obligations[o.ID]; !ok {
		s.data.order = append(s.data.order, o.ID)
	}
	s.data.obligations[o.ID] = cloneObligation(o)
}

func (s *Store) PutPayment(p *domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.payments[p.ID] = clonePayment(p)
}

// Inspection helpers

func (s *Store) Obligation(id string) *domain.Obligation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.data.obligations[id]; ok {
		return cloneObligation(o)
	}
	return nil
}

func (s *Store) Batches() []*domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Batch, 0, len(s.data.batches))
	for _, b := range s.data.batches {
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Payment(id string) *domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data.payments[id]; ok {
		return clonePayment(p)
	}
	return nil
}

func (s *Store) Payments() []*domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Payment, 0, len(s.data.payments))
	for _, p := range s.data.payments {
		out = append(out, clonePayment(p))
	}
	return out
}

func (s *Store) Notifications() []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Notification, 0, len(s.data.notifications))
	for _, n := range s.data.notifications {
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Recipient(id string) *domain.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.data.recipients[id]; ok {
		c := *r
		return &c
	}
	return nil
}

func (s *Store) Election(payeeID string, year int) *domain.EquityElection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data.elections[electionKey(payeeID, year)]; ok {
		c := *e
		return &c
	}
	return nil
}

// Port accessors

func (s *Store) ObligationRepo() *ObligationRepo { return &ObligationRepo{s} }
func (s *Store) BatchRepo() *BatchRepo { return &BatchRepo{s} }
func (s *Store) PaymentRepo() *PaymentRepo { return &PaymentRepo{s} }
func (s *Store) Outbox() *Outbox { return &Outbox{s} }
func (s *Store) Companies() *CompanyDirectory { return &CompanyDirectory{s} }
func (s *Store) Payees() *PayeeDirectory { return &PayeeDirectory{s} }
func (s *Store) Jurisdictions() *JurisdictionPolicy { return &JurisdictionPolicy{s} }

var (
	_ ports.DBPort               = (*Store)(nil)
	_ ports.ObligationRepository = (*ObligationRepo)(nil)
	_ ports.BatchRepository      = (*BatchRepo)(nil)
	_ ports.PaymentRepository    = (*PaymentRepo)(nil)
	_ ports.NotificationOutbox   = (*Outbox)(nil)
	_ ports.CompanyDirectory     = (*CompanyDirectory)(nil)
	_ ports.PayeeDirectory       = (*PayeeDirectory)(nil)
	_ ports.JurisdictionPolicy   = (*JurisdictionPolicy)(nil)
)

func electionKey(payeeID string, year int) string {
	return payeeID + "/" + strconv.Itoa(year)
}
