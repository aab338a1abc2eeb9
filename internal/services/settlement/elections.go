package settlement

import (
	"context"
	"fmt"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

type electionKey struct {
	payeeID string
	year    int
}

// electionLookup memoizes election lock status within one run
type electionLookup struct {
	payees ports.PayeeDirectory
	tx     ports.DBTX
	cache  map[electionKey]bool
}

func newElectionLookup(payees ports.PayeeDirectory, tx ports.DBTX) *electionLookup {
	return &electionLookup{payees: payees, tx: tx, cache: map[electionKey]bool{}}
}

// locked reports whether o's payee has locked the election for o's year.
// Cash-only obligations never need the lookup.
func (l *electionLookup) locked(ctx context.Context, o *domain.Obligation) (bool, error) {
	if o.EquityAmountCents == 0 {
		return true, nil
	}

	key := electionKey{payeeID: o.PayeeID, year: o.ObligationDate.Year()}
	if v, ok := l.cache[key]; ok {
		return v, nil
	}

	e, err := l.payees.GetEquityElection(ctx, l.tx, key.payeeID, key.year)
	if err != nil {
		return false, fmt.Errorf("get equity election: %w", err)
	}
	v := e != nil && e.Locked
	l.cache[key] = v
	return v, nil
}
