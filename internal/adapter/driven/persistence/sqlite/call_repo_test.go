package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Wyydra/campus/internal/adapter/driven/persistence/persistencetest"
	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
)

func openTemp(t *testing.T) *CallRecordRepository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCallRecordRepository(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) port.CallRecordRepository {
		return openTemp(t)
	})
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calls.db")
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	repo, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, domain.NewCallRecord("room-1", "alice", "bob", at)); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateStatus(ctx, "room-1", domain.StatusDeclined, at.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	repo.Close()

	repo, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	got, err := repo.Get(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusDeclined || !got.DeclinedAt.Equal(at.Add(time.Second)) {
		t.Fatalf("got %+v", got)
	}
}
