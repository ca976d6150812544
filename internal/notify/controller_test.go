package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type recordingAnnouncer struct {
	mu          sync.Mutex
	completions []Completion
}

func (a *recordingAnnouncer) AnnounceCompletion(_ context.Context, completion Completion) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completions = append(a.completions, completion)
	return nil
}

func (a *recordingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.completions)
}

type fixedAvatars struct{}

func (fixedAvatars) AvatarURL(context.Context, int64) string {
	return "https://example.com/avatar.png"
}

func newTestStore(t *testing.T) *records.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notify.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&records.Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := records.NewStore(records.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func completedConscript(t *testing.T, store *records.Store) records.Record {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertVerification(ctx, records.Link{
		DiscordID:      "200",
		RobloxUserID:   99,
		RobloxUsername: "Recruit",
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	record, err := store.Update(ctx, "200", func(record *records.Record) error {
		record.Progress = progression.Progress{
			DefenseTrainings:          6,
			RaidTrainings:             6,
			ConscriptAssessmentPassed: true,
			GroupPrimaried:            true,
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	return record
}

func TestProcessAnnouncesConscriptCompletionOnce(t *testing.T) {
	store := newTestStore(t)
	announcer := &recordingAnnouncer{}
	controller, err := NewController(Config{Flags: store, Announcer: announcer, Avatars: fixedAvatars{}})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	record := completedConscript(t, store)
	evaluation, err := record.Evaluate()
	if err != nil || !evaluation.OverallMet {
		t.Fatalf("expected met evaluation, got %+v %v", evaluation, err)
	}

	outcome, err := controller.Process(context.Background(), record, evaluation)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if outcome != OutcomeAnnounced {
		t.Fatalf("expected announced, got %s", outcome)
	}
	outcome, err = controller.Process(context.Background(), record, evaluation)
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if outcome != OutcomeAlreadyNotified {
		t.Fatalf("expected already notified, got %s", outcome)
	}
	if announcer.count() != 1 {
		t.Fatalf("expected one announcement, got %d", announcer.count())
	}
	completion := announcer.completions[0]
	if completion.Target != progression.CompletionConscript || completion.AvatarURL == "" {
		t.Fatalf("unexpected completion %+v", completion)
	}

	stored, err := store.Get(context.Background(), "200")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !stored.Notified.Conscript {
		t.Fatalf("expected conscript flag persisted")
	}
}

func TestProcessConcurrentEvaluationsAnnounceOnce(t *testing.T) {
	store := newTestStore(t)
	announcer := &recordingAnnouncer{}
	controller, err := NewController(Config{Flags: store, Announcer: announcer})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	record := completedConscript(t, store)
	evaluation, _ := record.Evaluate()

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := controller.Process(context.Background(), record, evaluation); err != nil {
				t.Errorf("process failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if announcer.count() != 1 {
		t.Fatalf("expected exactly one announcement, got %d", announcer.count())
	}
}

func TestProcessRegressionRearmsFlag(t *testing.T) {
	store := newTestStore(t)
	announcer := &recordingAnnouncer{}
	core, logs := observer.New(zap.InfoLevel)
	controller, err := NewController(Config{Flags: store, Announcer: announcer, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	record := completedConscript(t, store)
	evaluation, _ := record.Evaluate()
	if _, err := controller.Process(context.Background(), record, evaluation); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	record.Progress.GroupPrimaried = false
	regressed, _ := record.Evaluate()
	outcome, err := controller.Process(context.Background(), record, regressed)
	if err != nil {
		t.Fatalf("regression process failed: %v", err)
	}
	if outcome != OutcomeRearmed {
		t.Fatalf("expected rearmed, got %s", outcome)
	}
	if logs.FilterMessage("completion flag rearmed").Len() != 1 {
		t.Fatalf("expected rearm log entry")
	}

	outcome, err = controller.Process(context.Background(), record, evaluation)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if outcome != OutcomeAnnounced || announcer.count() != 2 {
		t.Fatalf("expected second earn cycle to announce, got %s with %d", outcome, announcer.count())
	}
}

func TestProcessIncompleteLeavesClearFlag(t *testing.T) {
	store := newTestStore(t)
	announcer := &recordingAnnouncer{}
	controller, err := NewController(Config{Flags: store, Announcer: announcer})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	record, err := store.UpsertVerification(context.Background(), records.Link{DiscordID: "300", RobloxUserID: 5, RobloxUsername: "Fresh"})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	evaluation, _ := record.Evaluate()
	outcome, err := controller.Process(context.Background(), record, evaluation)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if outcome != OutcomeIncomplete || announcer.count() != 0 {
		t.Fatalf("expected incomplete without announcement, got %s", outcome)
	}
}

type failingAnnouncer struct{ err error }

func (a failingAnnouncer) AnnounceCompletion(context.Context, Completion) error {
	return a.err
}

func TestAnnouncersCallEveryAnnouncer(t *testing.T) {
	first := &recordingAnnouncer{}
	second := &recordingAnnouncer{}
	failure := errors.New("gateway down")

	fanOut := Announcers{first, failingAnnouncer{err: failure}, second}
	err := fanOut.AnnounceCompletion(context.Background(), Completion{DiscordID: "1", Target: progression.CompletionTrooper})
	if !errors.Is(err, failure) {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("expected both announcers to receive the completion, got %d and %d", first.count(), second.count())
	}
}
