package change

import "testing"

func TestFoldRenamesPairsUniqueMatch(t *testing.T) {
	records := []Record{
		{Kind: KindDelete, PathKey: "old/a.go", ContentHash: "h1"},
		{Kind: KindAdd, PathKey: "new/a.go", ContentHash: "h1"},
		{Kind: KindModify, PathKey: "b.go", ContentHash: "h2"},
	}

	out := foldRenames(records)

	var renamed, modified int
	for _, r := range out {
		switch r.Kind {
		case KindRename:
			renamed++
			if r.PathKey != "new/a.go" || r.OldPathKey != "old/a.go" {
				t.Fatalf("unexpected rename record: %+v", r)
			}
		case KindModify:
			modified++
		case KindDelete, KindAdd:
			t.Fatalf("delete/add should have been folded: %+v", r)
		}
	}
	if renamed != 1 || modified != 1 {
		t.Fatalf("expected 1 rename and 1 modify, got %d rename, %d modify", renamed, modified)
	}
}

func TestFoldRenamesLeavesAmbiguousPairsAlone(t *testing.T) {
	records := []Record{
		{Kind: KindDelete, PathKey: "a.go", ContentHash: "dup"},
		{Kind: KindDelete, PathKey: "b.go", ContentHash: "dup"},
		{Kind: KindAdd, PathKey: "c.go", ContentHash: "dup"},
	}

	out := foldRenames(records)
	for _, r := range out {
		if r.Kind == KindRename {
			t.Fatalf("ambiguous pairing must not be folded into a rename: %+v", r)
		}
	}
	if len(out) != len(records) {
		t.Fatalf("expected records to pass through unchanged, got %d want %d", len(out), len(records))
	}
}

func TestOrderRecordsDeleteBeforeModifyBeforeAdd(t *testing.T) {
	records := []Record{
		{Kind: KindAdd, PathKey: "z.go"},
		{Kind: KindModify, PathKey: "m.go"},
		{Kind: KindDelete, PathKey: "d.go"},
		{Kind: KindAdd, PathKey: "a.go"},
	}
	orderRecords(records)

	wantOrder := []Kind{KindDelete, KindModify, KindAdd, KindAdd}
	for i, want := range wantOrder {
		if records[i].Kind != want {
			t.Fatalf("position %d: got kind %s, want %s", i, records[i].Kind, want)
		}
	}
	if records[2].PathKey != "a.go" || records[3].PathKey != "z.go" {
		t.Fatalf("adds not sorted lexicographically: %+v", records[2:4])
	}
}
