package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/splax/pwnarena/internal/repository"
)

func TestClassifyMarksRetryableErrors(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := classify(fmt.Errorf("commit: %w", &pgconn.PgError{Code: code}))
		if !errors.Is(err, repository.ErrTransient) {
			t.Fatalf("expected %s to be transient, got %v", code, err)
		}
	}
	err := classify(&pgconn.PgError{Code: "23505"})
	if errors.Is(err, repository.ErrTransient) {
		t.Fatalf("unique violation must not be retried")
	}
	domainErr := errors.New("target team is shielded")
	if got := classify(domainErr); got != domainErr {
		t.Fatalf("expected domain errors to pass through, got %v", got)
	}
	if classify(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func TestMapWriteError(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"23503", repository.ErrNotFound},
		{"23514", repository.ErrInvalidArgument},
		{"23505", repository.ErrInvalidArgument},
	}
	for _, tc := range cases {
		if got := mapWriteError(&pgconn.PgError{Code: tc.code}); !errors.Is(got, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, got)
		}
	}
	other := errors.New("boom")
	if got := mapWriteError(other); got != other {
		t.Fatalf("expected unrelated errors to pass through, got %v", got)
	}
}
