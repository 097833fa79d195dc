package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedAsset creates a project and one file asset and returns both.
func seedAsset(t *testing.T, s *SQLiteStore, projectID, name string) (*Project, *Asset) {
	t.Helper()
	ctx := context.Background()
	p, err := s.GetOrCreateProject(ctx, projectID)
	if err != nil {
		t.Fatalf("get or create project: %v", err)
	}
	a, err := s.CreateAsset(ctx, Asset{ProjectID: p.ID, Name: name, Size: 42})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return p, a
}

// makeChunks builds n ordered chunks for the asset.
func makeChunks(p *Project, a *Asset, n int) []Chunk {
	chunks := make([]Chunk, n)
	for i := range n {
		chunks[i] = Chunk{
			Text:      fmt.Sprintf("chunk %d", i+1),
			Metadata:  map[string]any{"source": a.Name},
			Order:     i + 1,
			ProjectID: p.ID,
			AssetID:   a.ID,
		}
	}
	return chunks
}

func Test_Store_GetOrCreateProjectIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateProject(ctx, "p1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := s.GetOrCreateProject(ctx, "p1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("want same row id, got %d and %d", first.ID, second.ID)
	}

	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
	if _, err := s.GetOrCreateProject(ctx, "  "); err == nil {
		t.Error("want error for blank project id")
	}
}

func Test_Store_AssetsUniquePerProject(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p, a := seedAsset(t, s, "p1", "abc_report.txt")
	if a.Type != AssetTypeFile {
		t.Errorf("want default type %q, got %q", AssetTypeFile, a.Type)
	}

	_, err := s.CreateAsset(ctx, Asset{ProjectID: p.ID, Name: "abc_report.txt"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}

	got, err := s.GetAssetByName(ctx, p.ID, "abc_report.txt")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if got.ID != a.ID || got.Size != 42 {
		t.Errorf("want id=%d size=42, got id=%d size=%d", a.ID, got.ID, got.Size)
	}

	if _, err := s.GetAssetByName(ctx, p.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}

	list, err := s.ListAssets(ctx, p.ID, AssetTypeFile)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("want 1 asset, got %d", len(list))
	}
}

func Test_Store_PaginationCoversEveryChunkOnce(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p, a := seedAsset(t, s, "p1", "doc.txt")
	if n, err := s.InsertChunks(ctx, makeChunks(p, a, 120)); err != nil || n != 120 {
		t.Fatalf("insert: n=%d err=%v", n, err)
	}

	var sizes []int
	var ids []int64
	for page := 1; ; page++ {
		chunks, err := s.GetPage(ctx, p.ID, page, 50)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if len(chunks) == 0 {
			break
		}
		sizes = append(sizes, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
	}

	want := []int{50, 50, 20}
	if fmt.Sprint(sizes) != fmt.Sprint(want) {
		t.Fatalf("page sizes: want %v, got %v", want, sizes)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not strictly increasing at %d: %d after %d", i, ids[i], ids[i-1])
		}
	}

	total, err := s.CountTotal(ctx, p.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != len(ids) {
		t.Errorf("count %d does not match paged ids %d", total, len(ids))
	}
}

func Test_Store_GetPagePreservesOrderAndMetadata(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p, a := seedAsset(t, s, "p1", "doc.txt")
	if _, err := s.InsertChunks(ctx, makeChunks(p, a, 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	chunks, err := s.GetPage(ctx, p.ID, 1, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	for i, c := range chunks {
		if c.Order != i+1 {
			t.Errorf("chunk %d: want order %d, got %d", i, i+1, c.Order)
		}
		if c.Metadata["source"] != "doc.txt" {
			t.Errorf("chunk %d: metadata not round-tripped: %v", i, c.Metadata)
		}
	}
}

func Test_Store_GetPageRejectsBadArguments(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetPage(ctx, 1, 0, 50); err == nil {
		t.Error("want error for page 0")
	}
	if _, err := s.GetPage(ctx, 1, 1, 0); err == nil {
		t.Error("want error for page size 0")
	}
}

func Test_Store_ReplaceAssetChunksDoesNotDuplicate(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p, a := seedAsset(t, s, "p1", "doc.txt")
	if _, _, err := s.ReplaceAssetChunks(ctx, a.ID, makeChunks(p, a, 5)); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	deleted, inserted, err := s.ReplaceAssetChunks(ctx, a.ID, makeChunks(p, a, 4))
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if deleted != 5 || inserted != 4 {
		t.Errorf("want deleted=5 inserted=4, got %d/%d", deleted, inserted)
	}
	total, _ := s.CountTotal(ctx, p.ID)
	if total != 4 {
		t.Errorf("want 4 chunks after replace, got %d", total)
	}
}

func Test_Store_AssetChunkIDsScopedToAsset(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p, a := seedAsset(t, s, "p1", "a.txt")
	_, b := seedAsset(t, s, "p1", "b.txt")
	if _, err := s.InsertChunks(ctx, makeChunks(p, a, 3)); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := s.InsertChunks(ctx, makeChunks(p, b, 2)); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	ids, err := s.AssetChunkIDs(ctx, a.ID)
	if err != nil {
		t.Fatalf("asset chunk ids: %v", err)
	}
	page, _ := s.GetPage(ctx, p.ID, 1, 10)
	want := []int64{}
	for _, c := range page {
		if c.AssetID == a.ID {
			want = append(want, c.ID)
		}
	}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}

	if _, _, err := s.ReplaceAssetChunks(ctx, a.ID, makeChunks(p, a, 3)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	after, _ := s.AssetChunkIDs(ctx, a.ID)
	if len(after) != 3 || after[0] == ids[0] {
		t.Errorf("replaced chunks must get new ids: before %v, after %v", ids, after)
	}

	none, err := s.AssetChunkIDs(ctx, 9999)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown asset: ids=%v err=%v", none, err)
	}
}

func Test_Store_FailedInsertLeavesNothingVisible(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p, a := seedAsset(t, s, "p1", "doc.txt")
	chunks := makeChunks(p, a, 3)
	chunks[2].Order = 0

	if _, err := s.InsertChunks(ctx, chunks); err == nil {
		t.Fatal("want error for chunk_order 0")
	}
	total, _ := s.CountTotal(ctx, p.ID)
	if total != 0 {
		t.Errorf("want 0 chunks after failed batch, got %d", total)
	}
}

func Test_Store_DeleteAllForProjectIsScoped(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p1, a1 := seedAsset(t, s, "p1", "one.txt")
	p2, a2 := seedAsset(t, s, "p2", "two.txt")
	if _, err := s.InsertChunks(ctx, makeChunks(p1, a1, 7)); err != nil {
		t.Fatalf("insert p1: %v", err)
	}
	if _, err := s.InsertChunks(ctx, makeChunks(p2, a2, 2)); err != nil {
		t.Fatalf("insert p2: %v", err)
	}

	n, err := s.DeleteAllForProject(ctx, p1.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 7 {
		t.Errorf("want 7 deleted, got %d", n)
	}
	if left, _ := s.CountTotal(ctx, p2.ID); left != 2 {
		t.Errorf("other project touched: want 2, got %d", left)
	}
}

func Test_Store_Ping(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if s.Name() != "sqlite" {
		t.Errorf("want name sqlite, got %q", s.Name())
	}
}
