package state

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()

	snapshots := []Snapshot{
		{},
		NewSnapshot(Message{Role: RoleUser, Content: "hi"}),
		{
			Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hello"}},
			Values:   map[string]any{"count": 3, "tags": []any{"a", "b"}, "nested": map[string]any{"k": "v"}},
		},
	}

	for i, snap := range snapshots {
		id := fmt.Sprintf("thread_%d", i)
		store.Put(id, snap)

		got, ok := store.Get(id)
		if !ok {
			t.Fatalf("Expected snapshot for %s", id)
		}
		if !reflect.DeepEqual(got, snap) {
			t.Errorf("Expected %+v, got %+v", snap, got)
		}
	}
}

func TestMemoryStore_GetAbsent(t *testing.T) {
	store := NewMemoryStore()

	if _, ok := store.Get("thread_missing"); ok {
		t.Error("Expected absent snapshot for unknown id")
	}
}

func TestMemoryStore_LastWriteWins(t *testing.T) {
	store := NewMemoryStore()

	store.Put("thread_1", NewSnapshot(Message{Role: RoleUser, Content: "first"}))
	store.Put("thread_1", NewSnapshot(Message{Role: RoleUser, Content: "second"}))

	got, _ := store.Get("thread_1")
	if len(got.Messages) != 1 || got.Messages[0].Content != "second" {
		t.Errorf("Expected latest snapshot, got %+v", got)
	}
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore()

	snap := Snapshot{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Values:   map[string]any{"nested": map[string]any{"k": "v"}},
	}
	store.Put("thread_1", snap)

	// 修改调用方持有的值不影响存储
	snap.Messages[0].Content = "changed"
	snap.Values["nested"].(map[string]any)["k"] = "changed"

	got, _ := store.Get("thread_1")
	if got.Messages[0].Content != "hi" {
		t.Errorf("Stored messages were mutated: %+v", got.Messages)
	}
	if got.Values["nested"].(map[string]any)["k"] != "v" {
		t.Errorf("Stored values were mutated: %+v", got.Values)
	}

	// 修改读取结果也不影响存储
	got.AddMessage(RoleAssistant, "extra")
	again, _ := store.Get("thread_1")
	if len(again.Messages) != 1 {
		t.Errorf("Expected 1 stored message, got %d", len(again.Messages))
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	store.Put("thread_1", Snapshot{})

	if !store.Delete("thread_1") {
		t.Error("Expected Delete to report existing snapshot")
	}
	if store.Delete("thread_1") {
		t.Error("Expected second Delete to report missing snapshot")
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store, got %d", store.Len())
	}
}

func TestMemoryStore_EvictIdle(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	store.Put("old", Snapshot{})
	store.Put("kept", Snapshot{})
	current = current.Add(time.Hour)
	store.Put("fresh", Snapshot{})

	evicted := store.EvictIdle(30*time.Minute, func(id string) bool { return id == "kept" })
	if evicted != 1 {
		t.Errorf("Expected 1 evicted snapshot, got %d", evicted)
	}

	ids := store.List()
	if !reflect.DeepEqual(ids, []string{"fresh", "kept"}) {
		t.Errorf("Unexpected remaining ids: %v", ids)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := NewSnapshot(Message{Role: RoleUser, Content: fmt.Sprintf("%d-%d", i, j)})
				store.Put("shared", snap)
				if got, ok := store.Get("shared"); !ok || len(got.Messages) != 1 {
					t.Errorf("Corrupted snapshot: %+v", got)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestSnapshot_Merge(t *testing.T) {
	snap := Snapshot{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Values:   map[string]any{"keep": 1, "reason": "old"},
	}

	merged := snap.Merge(map[string]any{"reason": "follow-up", "extra": true})

	if merged.Values["reason"] != "follow-up" {
		t.Errorf("Expected reason overwritten, got %v", merged.Values["reason"])
	}
	if merged.Values["keep"] != 1 || merged.Values["extra"] != true {
		t.Errorf("Unexpected merged values: %+v", merged.Values)
	}
	if snap.Values["reason"] != "old" {
		t.Error("Merge must not modify the source snapshot")
	}
	if len(merged.Messages) != 1 || merged.Messages[0].Content != "hi" {
		t.Errorf("Messages lost in merge: %+v", merged.Messages)
	}

	empty := Snapshot{}.Merge(map[string]any{"reason": "x"})
	if empty.Values["reason"] != "x" {
		t.Errorf("Expected values map to be created, got %+v", empty.Values)
	}
}
