package storage

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var ctx = context.Background()

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_mention_replies_mention", "idx_mention_replies_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestCheckpointNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetCheckpoint(ctx, "mentions")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCheckpointUpsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetCheckpoint(ctx, "mentions", "100"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	if err := s.SetCheckpoint(ctx, "mentions", "250"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}

	got, err := s.GetCheckpoint(ctx, "mentions")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if got != "250" {
		t.Errorf("checkpoint = %q, want %q", got, "250")
	}

	var rows int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM checkpoints").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("checkpoints rows = %d, want 1", rows)
	}
}

// TestCheckpointSurvivesReopen verifies the value is visible to the next process start.
func TestCheckpointSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.SetCheckpoint(ctx, "mentions", "1879000000000000001"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetCheckpoint(ctx, "mentions")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if got != "1879000000000000001" {
		t.Errorf("checkpoint = %q after reopen", got)
	}
}

func TestRecordAndListReplies(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for j := 0; j < 6; j++ {
		r := MentionReply{
			MentionID:   fmt.Sprintf("%d", 1000+j),
			AuthorID:    "author-1",
			Status:      ReplyStatusReplied,
			PostIDs:     []string{fmt.Sprintf("p%d-a", j), fmt.Sprintf("p%d-b", j)},
			MarketCount: 3,
			CreatedAt:   base.Add(time.Duration(j) * time.Minute),
		}
		if err := s.RecordReply(ctx, r); err != nil {
			t.Fatalf("RecordReply %d: %v", j, err)
		}
	}

	got, err := s.RecentReplies(ctx, 4)
	if err != nil {
		t.Fatalf("RecentReplies: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d replies, want 4", len(got))
	}
	if got[0].MentionID != "1005" {
		t.Errorf("first MentionID = %q, want %q", got[0].MentionID, "1005")
	}
	for k := 1; k < len(got); k++ {
		if got[k].CreatedAt.After(got[k-1].CreatedAt) {
			t.Errorf("not in descending order at %d", k)
		}
	}
	if len(got[0].PostIDs) != 2 || got[0].PostIDs[0] != "p5-a" {
		t.Errorf("PostIDs = %v", got[0].PostIDs)
	}
	if got[0].ID == "" {
		t.Error("ID was not generated")
	}
	if got[0].MarketCount != 3 {
		t.Errorf("MarketCount = %d, want 3", got[0].MarketCount)
	}
}

// TestRecentReplies_SubsecondOrdering guards the fixed-width timestamp layout.
func TestRecentReplies_SubsecondOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.RecordReply(ctx, MentionReply{MentionID: "1", Status: ReplyStatusEmpty, CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordReply(ctx, MentionReply{MentionID: "2", Status: ReplyStatusEmpty, CreatedAt: base.Add(500 * time.Millisecond)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentReplies(ctx, 2)
	if err != nil {
		t.Fatalf("RecentReplies: %v", err)
	}
	if got[0].MentionID != "2" {
		t.Errorf("newest MentionID = %q, want %q", got[0].MentionID, "2")
	}
}

func TestHasReplied(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordReply(ctx, MentionReply{MentionID: "10", Status: ReplyStatusFailed, Error: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordReply(ctx, MentionReply{MentionID: "11", Status: ReplyStatusPartial}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   string
		want bool
	}{
		{"10", false},
		{"11", true},
		{"12", false},
	}
	for _, tt := range tests {
		got, err := s.HasReplied(ctx, tt.id)
		if err != nil {
			t.Fatalf("HasReplied(%s): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("HasReplied(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestRecordReply_NilPostIDs(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordReply(ctx, MentionReply{MentionID: "7", Status: ReplyStatusSkipped}); err != nil {
		t.Fatalf("RecordReply: %v", err)
	}
	got, err := s.RecentReplies(ctx, 1)
	if err != nil {
		t.Fatalf("RecentReplies: %v", err)
	}
	if got[0].PostIDs == nil || len(got[0].PostIDs) != 0 {
		t.Errorf("PostIDs = %#v, want empty slice", got[0].PostIDs)
	}
}
