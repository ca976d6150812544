package records

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "records.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate records: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func seedRecord(t *testing.T, store *Store, discordID DiscordID, username string) Record {
	t.Helper()
	record, err := store.UpsertVerification(context.Background(), Link{
		DiscordID:        discordID,
		RobloxUserID:     4242,
		RobloxUsername:   username,
		VerificationCode: "ABCD1234",
	})
	if err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	return record
}

func TestUpsertVerificationCreatesConscriptRecord(t *testing.T) {
	store := newTestStore(t)
	record := seedRecord(t, store, "100", "Recruit")

	if record.Rank != progression.RankConscript {
		t.Fatalf("expected conscript rank, got %s", record.Rank)
	}
	if !record.ActiveVerification {
		t.Fatalf("expected active verification")
	}
	if record.Version != 1 {
		t.Fatalf("expected version 1, got %d", record.Version)
	}

	loaded, err := store.FindByUsername(context.Background(), "recruit")
	if err != nil {
		t.Fatalf("case-insensitive lookup failed: %v", err)
	}
	if loaded.DiscordID != "100" {
		t.Fatalf("unexpected record %q", loaded.DiscordID)
	}
	byRoblox, err := store.FindByRobloxUserID(context.Background(), 4242)
	if err != nil {
		t.Fatalf("roblox id lookup failed: %v", err)
	}
	if byRoblox.DiscordID != "100" {
		t.Fatalf("unexpected record %q", byRoblox.DiscordID)
	}
}

func TestUpsertVerificationAppendsHistory(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, "100", "Recruit")

	relinked, err := store.UpsertVerification(context.Background(), Link{
		DiscordID:        "100",
		RobloxUserID:     777,
		RobloxUsername:   "Renamed",
		VerificationCode: "ZZZZ9999",
	})
	if err != nil {
		t.Fatalf("relink failed: %v", err)
	}
	if len(relinked.History) != 1 {
		t.Fatalf("expected one history entry, got %d", len(relinked.History))
	}
	if relinked.History[0].RobloxUsername != "Recruit" || relinked.History[0].RobloxUserID != 4242 {
		t.Fatalf("unexpected snapshot %+v", relinked.History[0])
	}

	reloaded, err := store.Get(context.Background(), "100")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.RobloxUsername != "Renamed" || len(reloaded.History) != 1 {
		t.Fatalf("unexpected persisted record %+v", reloaded)
	}
}

func TestGetMissingRecordReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "records.get.not_found" {
		t.Fatalf("expected records.get.not_found code, got %v", err)
	}
}

func TestUpdatePersistsMutationAndBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, "100", "Recruit")

	updated, err := store.Update(context.Background(), "100", func(record *Record) error {
		record.Progress.DefenseTrainings = 3
		record.Progress.Pathway.WarfareEvents = 2
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	reloaded, err := store.Get(context.Background(), "100")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Progress.DefenseTrainings != 3 || reloaded.Progress.Pathway.WarfareEvents != 2 {
		t.Fatalf("progress not persisted: %+v", reloaded.Progress)
	}
}

func TestUpdatePropagatesMutatorError(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, "100", "Recruit")
	sentinel := errors.New("refused")

	_, err := store.Update(context.Background(), "100", func(record *Record) error {
		record.Progress.RaidTrainings = 9
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	reloaded, _ := store.Get(context.Background(), "100")
	if reloaded.Progress.RaidTrainings != 0 {
		t.Fatalf("expected no persisted change")
	}
}

func TestConcurrentUpdatesDoNotLoseIncrements(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, "100", "Recruit")

	const workers = 2
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(context.Background(), "100", func(record *Record) error {
				record.Progress.WarfareEvents++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}

	reloaded, err := store.Get(context.Background(), "100")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Progress.WarfareEvents != workers {
		t.Fatalf("expected %d warfare events, got %d", workers, reloaded.Progress.WarfareEvents)
	}
}

func TestSetFlagTransitionsExactlyOnceUnderConcurrency(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, "100", "Recruit")

	const callers = 8
	var wg sync.WaitGroup
	transitions := make(chan bool, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := store.SetFlag(context.Background(), "100", progression.FlagConscript, true)
			if err != nil {
				t.Errorf("set flag failed: %v", err)
				return
			}
			transitions <- changed
		}()
	}
	wg.Wait()
	close(transitions)

	count := 0
	for changed := range transitions {
		if changed {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one transition, got %d", count)
	}

	changed, err := store.SetFlag(context.Background(), "100", progression.FlagConscript, false)
	if err != nil || !changed {
		t.Fatalf("expected reset transition, got %v %v", changed, err)
	}
	reloaded, _ := store.Get(context.Background(), "100")
	if reloaded.Notified.Conscript {
		t.Fatalf("expected flag cleared")
	}
}

func TestDeleteReturnsRemovedRecord(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, "100", "Recruit")

	removed, err := store.Delete(context.Background(), "100")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if removed.RobloxUsername != "Recruit" {
		t.Fatalf("unexpected removed record %+v", removed)
	}
	if _, err := store.Get(context.Background(), "100"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
	if _, err := store.Delete(context.Background(), "100"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestNewDiscordIDValidates(t *testing.T) {
	if _, err := NewDiscordID("  "); !errors.Is(err, ErrInvalidDiscordID) {
		t.Fatalf("expected empty id rejected, got %v", err)
	}
	id, err := NewDiscordID(" 123 ")
	if err != nil || id != "123" {
		t.Fatalf("expected trimmed id, got %q %v", id, err)
	}
}
