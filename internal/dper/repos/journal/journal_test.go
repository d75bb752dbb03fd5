package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/haukened/dper/internal/dper/common/clock"
)

func openTemp(t *testing.T, clk clock.Clock) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := Open(path, clk)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestStore_FetchRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	clk := clock.NewMockClock(now)
	st, _ := openTemp(t, clk)

	if _, ok, err := st.LastFetch("b"); err != nil || ok {
		t.Fatalf("expected empty miss, got ok=%v err=%v", ok, err)
	}

	if err := st.RecordFetch(FetchRecord{PeerID: "b", URL: "https://b.example/d.json", Status: 200, Bytes: 42, Peers: 1}); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}
	clk.Advance(time.Minute)
	if err := st.RecordFetch(FetchRecord{PeerID: "a", URL: "https://a.example/d.xml", FromCache: true, Bytes: 7, Peers: 3}); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}

	rec, ok, err := st.LastFetch("b")
	if err != nil || !ok {
		t.Fatalf("LastFetch: ok=%v err=%v", ok, err)
	}
	if rec.Status != 200 || rec.Bytes != 42 || rec.FromCache || !rec.At.Equal(now) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	all, err := st.Fetches()
	if err != nil {
		t.Fatalf("Fetches: %v", err)
	}
	if len(all) != 2 || all[0].PeerID != "a" || all[1].PeerID != "b" {
		t.Fatalf("expected records ordered by peer id, got %+v", all)
	}
	if !all[0].At.Equal(now.Add(time.Minute)) || !all[0].FromCache {
		t.Fatalf("unexpected record for a: %+v", all[0])
	}
}

func TestStore_FetchOverwrites(t *testing.T) {
	st, _ := openTemp(t, nil)

	for _, status := range []int{200, 304} {
		if err := st.RecordFetch(FetchRecord{PeerID: "p", Status: status}); err != nil {
			t.Fatalf("RecordFetch: %v", err)
		}
	}
	rec, _, err := st.LastFetch("p")
	if err != nil || rec.Status != 304 {
		t.Fatalf("expected latest status 304, got %+v err=%v", rec, err)
	}
	if rec.At.IsZero() {
		t.Fatalf("expected timestamp from real clock")
	}
}

func TestStore_PublishRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	st, _ := openTemp(t, clock.NewMockClock(now))

	if _, ok, err := st.LastPublish(); err != nil || ok {
		t.Fatalf("expected no publish yet, got ok=%v err=%v", ok, err)
	}

	explicit := now.Add(-time.Hour)
	want := PublishRecord{Path: "/etc/nsd/peers.conf", Changed: true, Peers: 2, Zones: 5, At: explicit}
	if err := st.RecordPublish(want); err != nil {
		t.Fatalf("RecordPublish: %v", err)
	}

	got, ok, err := st.LastPublish()
	if err != nil || !ok {
		t.Fatalf("LastPublish: ok=%v err=%v", ok, err)
	}
	if got.Path != want.Path || !got.Changed || got.Forced || got.Zones != 5 || !got.At.Equal(explicit) {
		t.Fatalf("unexpected publish record: %+v", got)
	}
}

func TestStore_Reopen(t *testing.T) {
	st, path := openTemp(t, nil)
	if err := st.RecordFetch(FetchRecord{PeerID: "p", Bytes: 1}); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	if _, ok, err := again.LastFetch("p"); err != nil || !ok {
		t.Fatalf("expected record to survive reopen, ok=%v err=%v", ok, err)
	}
}

func TestOpen_BadPath(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing", "state.db"), nil); err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}
