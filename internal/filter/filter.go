// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filter contains the engine that periodically fetches unread
// Miniflux entries and marks as read those matching the configured rules.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.xela.dev/mffilter/internal/miniflux"
	"go.xela.dev/mffilter/internal/rules"
	"go.xela.dev/mffilter/internal/util/syncx"
)

// feedWorkers caps how many feeds are processed concurrently within one
// cycle.
const feedWorkers = 4

// Config configures an [Engine].
type Config struct {
	// Client talks to the Miniflux server.
	Client *miniflux.Client
	// Store reads rule sets.
	Store *rules.Store
	// Log receives engine output. If nil, slog.Default is used.
	Log *slog.Logger
	// Interval is the time between cycles. Used only by Run.
	Interval time.Duration
	// Dry makes the engine evaluate rules without marking anything as read.
	Dry bool
}

// Engine runs filtering cycles against a Miniflux server.
type Engine struct {
	client *miniflux.Client
	store  *rules.Store
	eval   *rules.Evaluator
	log    *slog.Logger

	interval time.Duration
	dry      bool

	lastCycle *syncx.Protected[*CycleResult]
}

// New returns a new [Engine].
func New(c Config) *Engine {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		client:    c.Client,
		store:     c.Store,
		eval:      rules.NewEvaluator(log),
		log:       log,
		interval:  c.Interval,
		dry:       c.Dry,
		lastCycle: syncx.Protect(&CycleResult{}),
	}
}

// CycleStats are the aggregate counters of one filtering cycle.
type CycleStats struct {
	// Feeds is the number of enabled rule sets whose feed was processed.
	Feeds int `json:"feeds"`
	// Processed is the number of unread entries evaluated.
	Processed int `json:"processed"`
	// Filtered is the number of entries marked as read.
	Filtered int `json:"filtered"`
	// Errors is the number of feeds that failed to fetch or mark.
	Errors int `json:"errors"`
}

// CycleResult describes the outcome of the most recent cycle.
type CycleResult struct {
	Time  time.Time  `json:"time"`
	Stats CycleStats `json:"stats"`
	Err   string     `json:"error,omitempty"`
}

// LastCycle returns the result of the most recent cycle. The zero value
// means no cycle has completed yet.
func (e *Engine) LastCycle() CycleResult {
	var res CycleResult
	e.lastCycle.RAccess(func(r *CycleResult) { res = *r })
	return res
}

// Run probes the Miniflux server, then runs filtering cycles at the
// configured interval until ctx is canceled.
//
// A failed probe is returned as an error: polling against an unreachable or
// unauthenticated server is pointless. After the probe, a failing cycle is
// logged and the next tick retries.
func (e *Engine) Run(ctx context.Context) error {
	me, err := e.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("connecting to Miniflux at %s: %w", e.client.BaseURL(), err)
	}
	e.log.Info("connected to Miniflux", "url", e.client.BaseURL(), "user", me.Username)

	tick := time.NewTicker(e.interval)
	defer tick.Stop()

	for {
		e.runCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	start := time.Now()
	stats, err := e.Cycle(ctx)

	res := CycleResult{Time: start, Stats: stats}
	if err != nil {
		res.Err = err.Error()
		e.log.Error("cycle failed", "error", err)
	} else {
		e.log.Info("cycle complete",
			"feeds", stats.Feeds,
			"processed", stats.Processed,
			"filtered", stats.Filtered,
			"errors", stats.Errors,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
	e.lastCycle.Access(func(r *CycleResult) { *r = res })
}

// Cycle runs a single filtering cycle: loads all rule sets fresh from disk,
// fetches unread entries of each enabled feed, evaluates the rules and marks
// matching entries as read with one batched call per feed.
//
// A feed-level failure counts toward Errors but does not abort the other
// feeds. An error is returned only when the rule store itself is unreadable.
func (e *Engine) Cycle(ctx context.Context) (CycleStats, error) {
	byFeed, err := e.store.ByFeed()
	if err != nil {
		return CycleStats{}, fmt.Errorf("loading rules: %w", err)
	}
	if len(byFeed) == 0 {
		e.log.Debug("no rule sets, nothing to do")
		return CycleStats{}, nil
	}

	stats := syncx.Protect(&CycleStats{})

	wg := syncx.NewLimitedWaitGroup(feedWorkers)
	for feedID, rs := range byFeed {
		if !rs.IsEnabled() {
			e.log.Debug("skipping disabled rule set", "feed_id", feedID)
			continue
		}
		wg.Go(func() {
			processed, filtered, err := e.processFeed(ctx, rs)
			stats.Access(func(s *CycleStats) {
				s.Feeds++
				s.Processed += processed
				s.Filtered += filtered
				if err != nil {
					s.Errors++
				}
			})
			if err != nil {
				e.log.Error("feed failed", "feed_id", feedID, "error", err)
			}
		})
	}
	wg.Wait()

	var out CycleStats
	stats.RAccess(func(s *CycleStats) { out = *s })
	return out, nil
}

// processFeed fetches the unread entries of one feed and marks the matching
// ones as read. It returns how many entries were evaluated and how many were
// marked.
func (e *Engine) processFeed(ctx context.Context, rs *rules.RuleSet) (processed, filtered int, err error) {
	entries, err := e.client.UnreadEntries(ctx, rs.FeedID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching unread entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	var matched []int64
	for _, entry := range entries {
		if idx := e.eval.Evaluate(rs, entryArticle(entry)); len(idx) > 0 {
			matched = append(matched, entry.ID)
			e.log.Debug("entry matched",
				"feed_id", rs.FeedID,
				"entry_id", entry.ID,
				"title", entry.Title,
				"rules", idx,
			)
		}
	}
	processed = len(entries)

	if len(matched) == 0 {
		return processed, 0, nil
	}
	if e.dry {
		e.log.Info("dry run, not marking entries as read", "feed_id", rs.FeedID, "entries", len(matched))
		return processed, len(matched), nil
	}
	if err := e.client.MarkRead(ctx, matched); err != nil {
		return processed, 0, fmt.Errorf("marking %d entries as read: %w", len(matched), err)
	}
	return processed, len(matched), nil
}

// entryArticle converts a Miniflux entry into the evaluator's view.
func entryArticle(e *miniflux.Entry) *rules.Article {
	return &rules.Article{
		Title:   e.Title,
		URL:     e.URL,
		Content: e.Content,
		Author:  e.Author,
		Tags:    e.Tags,
	}
}
