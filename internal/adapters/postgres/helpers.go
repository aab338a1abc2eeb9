package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// executor picks the caller's transaction when present, otherwise the pool
func executor(pool *pgxpool.Pool, db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return pool
}

// nullText creates a pgtype.Text with empty string handling
func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// textPtr converts an optional string to pgtype.Text
func textPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func int8Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func timestamptzPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func stringFromText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func int64FromInt8(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func timeFromTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// decimalToNumeric converts an optional decimal to pgtype.Numeric
func decimalToNumeric(d *decimal.Decimal) (pgtype.Numeric, error) {
	n := pgtype.Numeric{}
	if d == nil {
		return n, nil
	}
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert decimal: %w", err)
	}
	return n, nil
}

// pgNumericToDecimal converts pgtype.Numeric to decimal.Decimal
func pgNumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	var dec decimal.Decimal
	str, err := n.MarshalJSON()
	if err != nil {
		return dec, fmt.Errorf("marshal numeric: %w", err)
	}
	// Remove quotes from JSON string
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	return decimal.NewFromString(string(str))
}

// notFound maps pgx.ErrNoRows to a coded domain error
func notFound(err error, code domain.ErrorCode, msg, key, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WrapError(code, msg, err).WithDetail(key, id)
	}
	return domain.WrapError(domain.ErrorCodeDatabaseError, msg, err).WithDetail(key, id)
}
