package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/issuemirror/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return db
}

func TestTokensRoundTrip(t *testing.T) {
	db := newTestDB(t)
	check := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	if err := db.SaveToken("wesm/argh", models.KindIssues, models.SyncToken{ETag: `"a"`, LastCheck: check}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveToken("wesm/argh", models.KindLabels, models.SyncToken{ETag: `"b"`}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveToken("wesm/argh", models.KindIssues, models.SyncToken{ETag: `"c"`, LastCheck: check.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveToken("wesm/other", models.KindIssues, models.SyncToken{ETag: `"x"`}); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadTokens("wesm/argh")
	if err != nil {
		t.Fatalf("LoadTokens: %v", err)
	}
	want := map[models.ResourceKind]models.SyncToken{
		models.KindIssues: {ETag: `"c"`, LastCheck: check.Add(time.Hour)},
		models.KindLabels: {ETag: `"b"`, LastCheck: time.Time{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteTokens(t *testing.T) {
	db := newTestDB(t)
	if err := db.SaveToken("wesm/argh", models.KindMilestones, models.SyncToken{ETag: `"a"`}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteTokens("wesm/argh"); err != nil {
		t.Fatalf("DeleteTokens: %v", err)
	}
	got, err := db.LoadTokens("wesm/argh")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no tokens, got %+v", got)
	}
}

func TestRepositories(t *testing.T) {
	db := newTestDB(t)
	for _, r := range []string{"wesm/zzz", "wesm/argh", "wesm/argh"} {
		owner, name, err := models.ParseRepositoryString(r)
		if err != nil {
			t.Fatal(err)
		}
		if err := db.SaveRepository(&models.Repository{Owner: owner, Name: name, FullName: r}); err != nil {
			t.Fatalf("SaveRepository: %v", err)
		}
	}

	repos, err := db.ListRepositories()
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	want := []*models.Repository{
		{Owner: "wesm", Name: "argh", FullName: "wesm/argh"},
		{Owner: "wesm", Name: "zzz", FullName: "wesm/zzz"},
	}
	if diff := cmp.Diff(want, repos); diff != "" {
		t.Errorf("repositories mismatch (-want +got):\n%s", diff)
	}
}
