package persist_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"nvcore/pkg/bag"
	"nvcore/pkg/keyset"
	"nvcore/pkg/persist"
)

func seedNotes(t *testing.T, w *persist.Writer[*note], entities ...*note) {
	t.Helper()
	ctx := context.Background()
	for _, e := range entities {
		if err := w.Write(ctx, e); err != nil {
			t.Fatalf("seed %s: %v", e.Name, err)
		}
	}
}

func batchNames(t *testing.T, b *bag.Bag[*note]) []string {
	t.Helper()
	var out []string
	for e := range b.Seq() {
		out = append(out, e.Name)
	}
	return out
}

func TestReadOneByID(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	seedNotes(t, w, newNote(1, "A"))
	ctx := context.Background()

	b, err := r.ReadOneByID(ctx, testID(1))
	if err != nil {
		t.Fatalf("read one: %v", err)
	}
	got, ok := b.Singleton()
	if !ok || got.Name != "A" {
		t.Fatalf("singleton: %+v %v", got, ok)
	}
	if got.Ref().Collection() != "notes" {
		t.Fatalf("hydrated entity not bound to collection: %q", got.Ref().Collection())
	}

	// Absent identity: empty bag, not an error.
	b, err = r.ReadOneByID(ctx, testID(99))
	if err != nil {
		t.Fatalf("read absent: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("absent identity should yield empty bag, got %d", b.Len())
	}
}

func TestReadOneByFilter(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	seedNotes(t, w, newNote(1, "A"), newNote(2, "B"), newNote(3, "B"))
	ctx := context.Background()

	b, err := r.ReadOneByFilter(ctx, bag.Plan{And: []bag.Pred{bag.Eq("name", "A")}})
	if err != nil {
		t.Fatalf("read one by filter: %v", err)
	}
	if got, ok := b.Singleton(); !ok || got.Name != "A" {
		t.Fatalf("singleton: %+v %v", got, ok)
	}

	_, err = r.ReadOneByFilter(ctx, bag.Plan{And: []bag.Pred{bag.Eq("name", "B")}})
	if !errors.Is(err, persist.ErrMultipleMatches) {
		t.Fatalf("two matches: want ErrMultipleMatches, got %v", err)
	}
	if persist.ClassOf(err) != persist.ClassClient {
		t.Fatalf("multiple matches should be a client error")
	}

	b, err = r.ReadOneByFilter(ctx, bag.Plan{And: []bag.Pred{bag.Eq("name", "Z")}})
	if err != nil || b.Len() != 0 {
		t.Fatalf("no match should yield empty bag: %v %d", err, b.Len())
	}
}

func TestReadMany(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	seedNotes(t, w, newNote(3, "C"), newNote(1, "A"), newNote(2, "B"))
	ctx := context.Background()

	b, err := r.ReadMany(ctx, bag.Plan{}, 0, keyset.OrderSpec{{Field: "name", Desc: true}})
	if err != nil {
		t.Fatalf("read many: %v", err)
	}
	got := batchNames(t, b)
	if len(got) != 3 || got[0] != "C" || got[2] != "A" {
		t.Fatalf("descending read: %v", got)
	}

	b, err = r.ReadMany(ctx, bag.Plan{And: []bag.Pred{bag.Ne("name", "B")}}, 1, nil)
	if err != nil {
		t.Fatalf("filtered read: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("limit ignored: %d", b.Len())
	}
}

func TestReadBatchPagesInOrder(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	// Insertion order deliberately disagrees with the requested order.
	seedNotes(t, w, newNote(2, "B"), newNote(3, "C"), newNote(1, "A"))
	ctx := context.Background()
	order := keyset.OrderSpec{{Field: "name"}}

	b, cursor, err := r.ReadBatch(ctx, persist.Batch{Order: order, Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if got := batchNames(t, b); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("first page: %v", got)
	}
	if cursor == "" {
		t.Fatalf("first page should carry a continuation cursor")
	}

	b, cursor, err = r.ReadBatch(ctx, persist.Batch{Order: order, Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if got := batchNames(t, b); len(got) != 1 || got[0] != "C" {
		t.Fatalf("second page: %v", got)
	}
	if cursor != "" {
		t.Fatalf("exhausted pagination should not carry a cursor, got %q", cursor)
	}
}

func TestReadBatchVisitsEveryRowExactlyOnce(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	names := []string{"golf", "alpha", "echo", "bravo", "hotel", "charlie", "foxtrot", "delta", "india", "juliett"}
	for i, name := range names {
		seedNotes(t, w, newNote(i+1, name))
	}
	ctx := context.Background()

	seen := map[string]int{}
	var total int
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > len(names) {
			t.Fatalf("pagination did not terminate")
		}
		b, next, err := r.ReadBatch(ctx, persist.Batch{
			Order:  keyset.OrderSpec{{Field: "name"}},
			Limit:  3,
			Cursor: cursor,
		})
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, n := range batchNames(t, b) {
			seen[n]++
			total++
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if total != len(names) {
		t.Fatalf("visited %d rows, want %d", total, len(names))
	}
	for _, name := range names {
		if seen[name] != 1 {
			t.Fatalf("row %q visited %d times", name, seen[name])
		}
	}
}

func TestReadBatchPaginatesAcrossMissingSortValues(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	// The third row carries no name field and sorts after every named row.
	seedNotes(t, w, newNote(1, "A"), newNote(2, "B"), newNote(3, ""))
	ctx := context.Background()
	order := keyset.OrderSpec{{Field: "name"}}

	b, cursor, err := r.ReadBatch(ctx, persist.Batch{Order: order, Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if got := batchNames(t, b); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("first page: %v", got)
	}
	if cursor == "" {
		t.Fatalf("first page should carry a continuation cursor")
	}
	b, cursor, err = r.ReadBatch(ctx, persist.Batch{Order: order, Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("row without the sort field dropped at the page boundary: %d rows", b.Len())
	}
	if got, ok := b.Singleton(); !ok || got.Ref().ID() != testID(3) {
		t.Fatalf("second page: %+v %v", got, ok)
	}
	if cursor != "" {
		t.Fatalf("exhausted pagination should not carry a cursor")
	}

	// Descending, the unnamed row leads; crossing out of the null region must
	// not drop the named rows.
	var ids []string
	cursor = ""
	for pages := 0; ; pages++ {
		if pages > 3 {
			t.Fatalf("pagination did not terminate")
		}
		b, next, err := r.ReadBatch(ctx, persist.Batch{
			Order:  keyset.OrderSpec{{Field: "name", Desc: true}},
			Limit:  1,
			Cursor: cursor,
		})
		if err != nil {
			t.Fatalf("desc page %d: %v", pages, err)
		}
		for e := range b.Seq() {
			ids = append(ids, e.Ref().ID())
		}
		if next == "" {
			break
		}
		cursor = next
	}
	want := []string{testID(3), testID(2), testID(1)}
	if len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Fatalf("descending traversal across the null region: %v", ids)
	}
}

func TestReadBatchReverse(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	seedNotes(t, w, newNote(1, "A"), newNote(2, "B"), newNote(3, "C"))
	ctx := context.Background()

	b, cursor, err := r.ReadBatch(ctx, persist.Batch{
		Order:   keyset.OrderSpec{{Field: "name"}},
		Limit:   2,
		Reverse: true,
	})
	if err != nil {
		t.Fatalf("reverse first page: %v", err)
	}
	if got := batchNames(t, b); len(got) != 2 || got[0] != "C" || got[1] != "B" {
		t.Fatalf("reverse first page: %v", got)
	}

	// The cursor keeps the traversal direction without the caller restating it.
	b, cursor, err = r.ReadBatch(ctx, persist.Batch{Limit: 2, Cursor: cursor})
	if err != nil {
		t.Fatalf("reverse second page: %v", err)
	}
	if got := batchNames(t, b); len(got) != 1 || got[0] != "A" {
		t.Fatalf("reverse second page: %v", got)
	}
	if cursor != "" {
		t.Fatalf("exhausted reverse pagination should not carry a cursor")
	}
}

func TestReadBatchTiesBrokenByIdentity(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	// All rows tie on name; the appended identity clause must still produce
	// a stable, complete traversal.
	seedNotes(t, w, newNote(3, "same"), newNote(1, "same"), newNote(2, "same"))
	ctx := context.Background()

	var ids []string
	cursor := ""
	for {
		b, next, err := r.ReadBatch(ctx, persist.Batch{
			Order:  keyset.OrderSpec{{Field: "name"}},
			Limit:  1,
			Cursor: cursor,
		})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for e := range b.Seq() {
			ids = append(ids, e.Ref().ID())
		}
		if next == "" {
			break
		}
		cursor = next
	}
	want := []string{testID(1), testID(2), testID(3)}
	if len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Fatalf("tie traversal: %v", ids)
	}
}

func TestReadBatchFilterAndSeekCompose(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	seedNotes(t, w,
		newNote(1, "A"), newNote(2, "drop"), newNote(3, "B"),
		newNote(4, "drop"), newNote(5, "C"))
	ctx := context.Background()
	filter := bag.Plan{And: []bag.Pred{bag.Ne("name", "drop")}}

	b, cursor, err := r.ReadBatch(ctx, persist.Batch{
		Filter: filter,
		Order:  keyset.OrderSpec{{Field: "name"}},
		Limit:  2,
	})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if got := batchNames(t, b); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("filtered first page: %v", got)
	}
	b, _, err = r.ReadBatch(ctx, persist.Batch{
		Filter: filter,
		Order:  keyset.OrderSpec{{Field: "name"}},
		Limit:  2,
		Cursor: cursor,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if got := batchNames(t, b); len(got) != 1 || got[0] != "C" {
		t.Fatalf("filtered second page: %v", got)
	}
}

func TestReadBatchCursorOrderMismatch(t *testing.T) {
	store, gate, typ := newEngine(t)
	w := mustWriter(t, store, gate, typ)
	r := mustReader(t, store, gate, typ)
	seedNotes(t, w, newNote(1, "A"), newNote(2, "B"))
	ctx := context.Background()

	_, cursor, err := r.ReadBatch(ctx, persist.Batch{Order: keyset.OrderSpec{{Field: "name"}}, Limit: 1})
	if err != nil || cursor == "" {
		t.Fatalf("first page: %v cursor=%q", err, cursor)
	}
	_, _, err = r.ReadBatch(ctx, persist.Batch{
		Order:  keyset.OrderSpec{{Field: "score"}},
		Limit:  1,
		Cursor: cursor,
	})
	if !errors.Is(err, persist.ErrCursorOrderMismatch) {
		t.Fatalf("want ErrCursorOrderMismatch, got %v", err)
	}
	if persist.ClassOf(err) != persist.ClassClient {
		t.Fatalf("order mismatch should be a client error")
	}
}

func TestReadBatchRejectsMalformedCursor(t *testing.T) {
	store, gate, typ := newEngine(t)
	r := mustReader(t, store, gate, typ)

	_, _, err := r.ReadBatch(context.Background(), persist.Batch{Cursor: "not-a-cursor"})
	if !errors.Is(err, keyset.ErrBadCursor) {
		t.Fatalf("want ErrBadCursor, got %v", err)
	}
	if got := persist.ClassOf(err).HTTPStatus(); got != http.StatusBadRequest {
		t.Fatalf("bad cursor should map to 400, got %d", got)
	}
}

func TestNewReaderRejectsBadDescriptor(t *testing.T) {
	store, gate, _ := newEngine(t)
	bad := noteType()
	bad.Collection = ""
	_, err := persist.NewReader(store, gate, bad)
	if !errors.Is(err, persist.ErrBadDescriptor) {
		t.Fatalf("want ErrBadDescriptor, got %v", err)
	}
	if persist.ClassOf(err) != persist.ClassConfig {
		t.Fatalf("descriptor defect should be a config error")
	}
}
