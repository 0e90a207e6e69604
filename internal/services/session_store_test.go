package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"kalem/internal/models"
)

func newTestStore() *SessionStore {
	return NewSessionStore(20, 1*time.Hour, 30*time.Minute, LanguageEnglish)
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	store := newTestStore()

	first, created := store.GetOrCreate("actor-1")
	if !created {
		t.Fatal("expected first contact to create a session")
	}
	if first.Language != LanguageEnglish {
		t.Errorf("expected default language en, got %q", first.Language)
	}

	second, created := store.GetOrCreate("actor-1")
	if created {
		t.Error("expected second contact to reuse the session")
	}
	if first != second {
		t.Error("expected the same session pointer on repeat contact")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 session, got %d", store.Len())
	}
}

func TestAppendTurnEnforcesHistoryCap(t *testing.T) {
	store := NewSessionStore(20, 1*time.Hour, 30*time.Minute, LanguageEnglish)
	store.GetOrCreate("actor-1")

	for i := 0; i < 15; i++ {
		store.AppendTurn("actor-1", models.RoleUser, fmt.Sprintf("question %d", i))
		store.AppendTurn("actor-1", models.RoleAssistant, fmt.Sprintf("answer %d", i))
	}

	_, userTurns, messageCount, ok := store.Snapshot("actor-1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if messageCount != 20 {
		t.Errorf("expected history capped at 20 messages, got %d", messageCount)
	}
	if userTurns != 15 {
		t.Errorf("expected 15 user turns counted, got %d", userTurns)
	}

	// Oldest messages are trimmed first
	messages := store.RecentMessages("actor-1", 20)
	if len(messages) != 20 {
		t.Fatalf("expected 20 recent messages, got %d", len(messages))
	}
	if messages[0].Content != "question 5" {
		t.Errorf("expected oldest retained message to be %q, got %q", "question 5", messages[0].Content)
	}
	if messages[19].Content != "answer 14" {
		t.Errorf("expected newest message to be %q, got %q", "answer 14", messages[19].Content)
	}
}

func TestAppendTurnMissingSessionIsNoop(t *testing.T) {
	store := newTestStore()

	store.AppendTurn("ghost", models.RoleUser, "hello")
	if store.Len() != 0 {
		t.Error("appending to a missing session must not create one")
	}
}

func TestRecentMessagesReturnsCopy(t *testing.T) {
	store := newTestStore()
	store.GetOrCreate("actor-1")
	store.AppendTurn("actor-1", models.RoleUser, "original")

	messages := store.RecentMessages("actor-1", 10)
	messages[0].Content = "mutated"

	again := store.RecentMessages("actor-1", 10)
	if again[0].Content != "original" {
		t.Error("caller mutation leaked into the stored session")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	store := NewSessionStore(20, 1*time.Hour, 30*time.Minute, LanguageEnglish)

	idle, _ := store.GetOrCreate("idle-actor")
	active, _ := store.GetOrCreate("active-actor")

	now := time.Now()
	idle.LastActivityAt = now.Add(-2 * time.Hour)
	active.LastActivityAt = now.Add(-10 * time.Minute)

	removed := store.Sweep(now)
	if removed != 1 {
		t.Errorf("expected 1 session swept, got %d", removed)
	}
	if _, _, _, ok := store.Snapshot("idle-actor"); ok {
		t.Error("idle session should have been evicted")
	}
	if _, _, _, ok := store.Snapshot("active-actor"); !ok {
		t.Error("active session should have survived the sweep")
	}
}

func TestSweepExactlyAtTTLIsRetained(t *testing.T) {
	store := NewSessionStore(20, 1*time.Hour, 30*time.Minute, LanguageEnglish)

	session, _ := store.GetOrCreate("actor-1")
	now := time.Now()
	session.LastActivityAt = now.Add(-1 * time.Hour)

	if removed := store.Sweep(now); removed != 0 {
		t.Errorf("session idle for exactly the TTL must be retained, swept %d", removed)
	}
}

func TestClearIsIdempotentAndAllowsRecreation(t *testing.T) {
	store := newTestStore()
	store.GetOrCreate("actor-1")
	store.AppendTurn("actor-1", models.RoleUser, "hello")

	store.Clear("actor-1")
	store.Clear("actor-1")

	if store.Len() != 0 {
		t.Errorf("expected empty store after clear, got %d sessions", store.Len())
	}

	_, created := store.GetOrCreate("actor-1")
	if !created {
		t.Error("expected a fresh session after clear")
	}
	if _, userTurns, messageCount, _ := store.Snapshot("actor-1"); userTurns != 0 || messageCount != 0 {
		t.Errorf("expected empty new session, got %d turns / %d messages", userTurns, messageCount)
	}
}

func TestConcurrentAppendsStayWithinCap(t *testing.T) {
	store := NewSessionStore(20, 1*time.Hour, 30*time.Minute, LanguageEnglish)
	store.GetOrCreate("actor-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				store.AppendTurn("actor-1", models.RoleUser, fmt.Sprintf("msg %d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	_, userTurns, messageCount, _ := store.Snapshot("actor-1")
	if messageCount != 20 {
		t.Errorf("expected history capped at 20 under concurrency, got %d", messageCount)
	}
	if userTurns != 200 {
		t.Errorf("expected 200 user turns counted, got %d", userTurns)
	}
}

func TestConcurrentGetOrCreateYieldsOneSession(t *testing.T) {
	store := newTestStore()

	var wg sync.WaitGroup
	createdCount := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created := store.GetOrCreate("actor-1")
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	total := 0
	for created := range createdCount {
		if created {
			total++
		}
	}
	if total != 1 {
		t.Errorf("expected exactly one creation across concurrent first contact, got %d", total)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 session, got %d", store.Len())
	}
}

func TestStopIsSafeToCallTwice(t *testing.T) {
	store := NewSessionStore(20, 1*time.Hour, 10*time.Millisecond, LanguageEnglish)
	store.StartSweeper()

	store.Stop()
	store.Stop()
}
