// Package persistencetest holds the behaviour every call-record store must share.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
)

// Run exercises repo against the monotonic status rules. newRepo must return an empty store.
func Run(t *testing.T, newRepo func(t *testing.T) port.CallRecordRepository) {
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		rec := domain.NewCallRecord("room-1", "alice", "bob", created)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.Get(ctx, "room-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.CallerID != "alice" || got.CalleeID != "bob" || got.Status != domain.StatusPending {
			t.Fatalf("got %+v", got)
		}
		if !got.CreatedAt.Equal(created) {
			t.Fatalf("CreatedAt = %v", got.CreatedAt)
		}
		if err := repo.Create(ctx, rec); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("missing record", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get = %v", err)
		}
		if err := repo.UpdateStatus(ctx, "nope", domain.StatusEnded, created); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("UpdateStatus = %v", err)
		}
	})

	t.Run("status only moves forward", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, domain.NewCallRecord("room-2", "alice", "bob", created)); err != nil {
			t.Fatal(err)
		}
		accepted := created.Add(5 * time.Second)
		ended := created.Add(time.Minute)

		steps := []struct {
			status  domain.CallStatus
			at      time.Time
			wantErr bool
		}{
			{domain.StatusRinging, created.Add(time.Second), false},
			{domain.StatusAccepted, accepted, false},
			{domain.StatusRinging, accepted, true},
			{domain.StatusEnded, ended, false},
			{domain.StatusEnded, ended.Add(time.Second), true},
			{domain.StatusDeclined, ended, true},
		}
		for _, s := range steps {
			err := repo.UpdateStatus(ctx, "room-2", s.status, s.at)
			if s.wantErr != (err != nil) {
				t.Fatalf("-> %s: err = %v, wantErr %v", s.status, err, s.wantErr)
			}
			if s.wantErr && !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("-> %s: got %v, want ErrInvalidTransition", s.status, err)
			}
		}

		got, err := repo.Get(ctx, "room-2")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.StatusEnded {
			t.Fatalf("status = %s", got.Status)
		}
		if !got.AcceptedAt.Equal(accepted) || !got.EndedAt.Equal(ended) || !got.DeclinedAt.IsZero() {
			t.Fatalf("timestamps %+v", got)
		}
	})
}
