// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package filter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.xela.dev/mffilter/internal/miniflux"
	"go.xela.dev/mffilter/internal/rules"
	"go.xela.dev/mffilter/internal/testutil"

	"golang.org/x/tools/txtar"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// testServer fakes the Miniflux API and records fetch and mark calls.
type testServer struct {
	mux *http.ServeMux

	mu      sync.Mutex
	fetched []int64   // feed ids of unread-entries calls
	marked  [][]int64 // entry id batches of mark-as-read calls
}

func newTestServer(t *testing.T, unread map[int64][]*miniflux.Entry) *testServer {
	t.Helper()
	ts := &testServer{mux: http.NewServeMux()}

	ts.mux.HandleFunc("GET miniflux.example.com/v1/me", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 1, "username": "admin"}`))
	})
	ts.mux.HandleFunc("GET miniflux.example.com/v1/feeds/{id}/entries", func(w http.ResponseWriter, r *http.Request) {
		feedID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		ts.fetched = append(ts.fetched, feedID)
		ts.mu.Unlock()

		entries, ok := unread[feedID]
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		resp := struct {
			Total   int               `json:"total"`
			Entries []*miniflux.Entry `json:"entries"`
		}{Total: len(entries), Entries: entries}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Error(err)
		}
	})
	ts.mux.HandleFunc("PUT miniflux.example.com/v1/entries", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var body struct {
			EntryIDs []int64 `json:"entry_ids"`
			Status   string  `json:"status"`
		}
		if err := json.Unmarshal(b, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		ts.marked = append(ts.marked, body.EntryIDs)
		ts.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	return ts
}

func (ts *testServer) client() *miniflux.Client {
	return miniflux.NewClient("https://miniflux.example.com", "t0ken", &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			w := httptest.NewRecorder()
			ts.mux.ServeHTTP(w, r)
			return w.Result(), nil
		}),
	})
}

func (ts *testServer) fetchCalls() []int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]int64(nil), ts.fetched...)
}

func (ts *testServer) markCalls() [][]int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([][]int64(nil), ts.marked...)
}

func testEngine(t *testing.T, ts *testServer, rulesArchive string, dry bool) *Engine {
	t.Helper()
	dir := t.TempDir()
	testutil.ExtractTxtar(t, txtar.Parse([]byte(rulesArchive)), dir)
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(Config{
		Client:   ts.client(),
		Store:    rules.NewStore(dir, log),
		Log:      log,
		Interval: time.Minute,
		Dry:      dry,
	})
}

const advertisementRules = `
-- feed_123.yaml --
feed_id: 123
rules:
  - action: markread
    conditions:
      - field: title
        operator: contains
        value: advertisement
`

func TestCycleMarksMatchingEntries(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[int64][]*miniflux.Entry{
		123: {
			{ID: 1, FeedID: 123, Title: "This is an Advertisement", Status: "unread"},
			{ID: 2, FeedID: 123, Title: "Actual news", Status: "unread"},
		},
	})
	e := testEngine(t, ts, advertisementRules, false)

	stats, err := e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, stats, CycleStats{Feeds: 1, Processed: 2, Filtered: 1})
	testutil.AssertEqual(t, ts.markCalls(), [][]int64{{1}})
}

func TestCycleSkipsDisabledRuleSets(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[int64][]*miniflux.Entry{
		123: {{ID: 1, FeedID: 123, Title: "This is an Advertisement"}},
	})
	e := testEngine(t, ts, `
-- feed_123.yaml --
feed_id: 123
enabled: false
rules:
  - action: markread
    conditions:
      - field: title
        operator: contains
        value: advertisement
`, false)

	stats, err := e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// No fetch is issued for a disabled feed.
	testutil.AssertEqual(t, stats, CycleStats{})
	testutil.AssertEqual(t, len(ts.fetchCalls()), 0)
	testutil.AssertEqual(t, len(ts.markCalls()), 0)
}

func TestCycleZeroUnreadEntries(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[int64][]*miniflux.Entry{123: {}})
	e := testEngine(t, ts, advertisementRules, false)

	stats, err := e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, stats, CycleStats{Feeds: 1})
	testutil.AssertEqual(t, ts.fetchCalls(), []int64{123})
	testutil.AssertEqual(t, len(ts.markCalls()), 0)
}

func TestCycleNoRuleSets(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	e := testEngine(t, ts, "", false)

	stats, err := e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, stats, CycleStats{})
	testutil.AssertEqual(t, len(ts.fetchCalls()), 0)
}

func TestCycleFeedFailureIsolation(t *testing.T) {
	t.Parallel()

	// Feed 666 has no canned entries, so fetching it returns HTTP 500.
	ts := newTestServer(t, map[int64][]*miniflux.Entry{
		123: {{ID: 1, FeedID: 123, Title: "This is an Advertisement"}},
	})
	e := testEngine(t, ts, advertisementRules+`
-- feed_666.yaml --
feed_id: 666
rules:
  - action: markread
    conditions:
      - field: title
        operator: contains
        value: spam
`, false)

	stats, err := e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The failing feed does not prevent the healthy one from being filtered.
	testutil.AssertEqual(t, stats, CycleStats{Feeds: 2, Processed: 1, Filtered: 1, Errors: 1})
	testutil.AssertEqual(t, ts.markCalls(), [][]int64{{1}})
}

func TestCycleDryRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[int64][]*miniflux.Entry{
		123: {{ID: 1, FeedID: 123, Title: "This is an Advertisement"}},
	})
	e := testEngine(t, ts, advertisementRules, true)

	stats, err := e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, stats, CycleStats{Feeds: 1, Processed: 1, Filtered: 1})
	testutil.AssertEqual(t, len(ts.markCalls()), 0)
}

func TestCycleIdempotence(t *testing.T) {
	t.Parallel()

	unread := map[int64][]*miniflux.Entry{
		123: {{ID: 1, FeedID: 123, Title: "This is an Advertisement"}},
	}
	ts := newTestServer(t, unread)
	e := testEngine(t, ts, advertisementRules, false)

	stats, err := e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stats.Filtered, 1)

	// The matched entry is now read, so the second cycle sees no unread
	// matches.
	unread[123] = nil
	stats, err = e.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stats.Filtered, 0)
	testutil.AssertEqual(t, len(ts.markCalls()), 1)
}

func TestRunFailsOnUnreachableServer(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux() // no /v1/me route, probe gets 404
	ts := &testServer{mux: mux}
	e := testEngine(t, ts, advertisementRules, false)

	if err := e.Run(context.Background()); err == nil {
		t.Fatal("want probe error")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, map[int64][]*miniflux.Entry{123: {}})
	e := testEngine(t, ts, advertisementRules, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	e := testEngine(t, ts, advertisementRules+`
-- feed_666.yaml --
feed_id: 666
enabled: false
rules:
  - action: markread
    conditions:
      - field: title
        operator: contains
        value: spam
      - field: author
        operator: equals
        value: spammer
`, false)

	stats, err := e.Stats()
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stats, Stats{RuleSets: 2, EnabledRuleSets: 1, Rules: 2})
}
