package chatkit

import "testing"

func repoMessage(id string, ts int64) Message {
	return Message{ID: id, Type: MessageTypeVisitor, Text: "msg " + id, TimeMicros: ts}
}

func repoIDs(messages []Message) []string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}

func TestRepositoryInsertKeepsServerOrder(t *testing.T) {
	repo := newMessageRepository()
	repo.upsert(repoMessage("b", 200))
	repo.upsert(repoMessage("a", 100))
	repo.upsert(repoMessage("c", 300))

	got := repoIDs(repo.all())
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRepositoryUpsertReportsPrevious(t *testing.T) {
	repo := newMessageRepository()
	repo.upsert(repoMessage("a", 100))

	// An append at the newest end carries no previous.
	_, previous, replaced := repo.upsert(repoMessage("b", 200))
	if replaced {
		t.Fatal("fresh insert reported as replace")
	}
	if previous != nil {
		t.Fatalf("previous at the newest end = %+v, want nil", previous)
	}

	_, previous, _ = repo.upsert(repoMessage("z", 50))
	if previous != nil {
		t.Fatalf("previous at the oldest position = %+v", previous)
	}

	// An out-of-order insert reports the message now preceding it.
	_, previous, _ = repo.upsert(repoMessage("m", 150))
	if previous == nil || previous.ID != "a" {
		t.Fatalf("previous for an out-of-order insert = %+v, want a", previous)
	}
}

func TestRepositoryUpsertReplacesByID(t *testing.T) {
	repo := newMessageRepository()
	repo.upsert(repoMessage("a", 100))
	repo.upsert(repoMessage("b", 200))

	// Server ack: same client ID, server-assigned order key.
	ack := repoMessage("a", 150)
	ack.SendStatus = SendStatusSent
	old, _, replaced := repo.upsert(ack)
	if !replaced {
		t.Fatal("ack was not treated as a replace")
	}
	if old == nil || old.TimeMicros != 100 {
		t.Fatalf("old value = %+v", old)
	}
	if repo.size() != 2 {
		t.Fatalf("size = %d after replace", repo.size())
	}
	got, ok := repo.get("a")
	if !ok || got.TimeMicros != 150 || got.SendStatus != SendStatusSent {
		t.Fatalf("stored value = %+v", got)
	}
}

func TestRepositoryReplaceRepositions(t *testing.T) {
	repo := newMessageRepository()
	repo.upsert(repoMessage("a", 100))
	repo.upsert(repoMessage("b", 200))
	repo.upsert(repoMessage("c", 300))

	moved := repoMessage("a", 250)
	repo.upsert(moved)

	got := repoIDs(repo.all())
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order after reposition = %v, want %v", got, want)
		}
	}
}

func TestRepositoryRemove(t *testing.T) {
	repo := newMessageRepository()
	repo.upsert(repoMessage("a", 100))

	msg, ok := repo.remove("a")
	if !ok || msg.ID != "a" {
		t.Fatalf("remove returned %v, %v", msg, ok)
	}
	if _, ok := repo.remove("a"); ok {
		t.Fatal("second remove reported success")
	}
	if repo.size() != 0 {
		t.Fatalf("size = %d", repo.size())
	}
}

func TestRepositoryNewestAndOlderThan(t *testing.T) {
	repo := newMessageRepository()
	for i := int64(1); i <= 5; i++ {
		repo.upsert(repoMessage(string(rune('a'+i-1)), i*100))
	}

	newest := repoIDs(repo.newest(2))
	if len(newest) != 2 || newest[0] != "d" || newest[1] != "e" {
		t.Fatalf("newest(2) = %v", newest)
	}

	older := repoIDs(repo.olderThan(400, 2))
	if len(older) != 2 || older[0] != "b" || older[1] != "c" {
		t.Fatalf("olderThan(400, 2) = %v", older)
	}

	if got := repo.olderThan(100, 10); len(got) != 0 {
		t.Fatalf("olderThan below the oldest returned %v", repoIDs(got))
	}
}

func TestRepositoryBackfillSkipsExisting(t *testing.T) {
	repo := newMessageRepository()
	repo.upsert(repoMessage("c", 300))

	inserted := repo.backfill([]Message{
		repoMessage("a", 100),
		repoMessage("b", 200),
		repoMessage("c", 999),
	})
	if len(inserted) != 2 {
		t.Fatalf("inserted %d messages, want 2", len(inserted))
	}

	got := repoIDs(repo.all())
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if msg, _ := repo.get("c"); msg.TimeMicros != 300 {
		t.Fatal("backfill overwrote an existing message")
	}
}
