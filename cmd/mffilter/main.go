// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"go.xela.dev/mffilter/internal/cli"
	"go.xela.dev/mffilter/internal/filter"
	"go.xela.dev/mffilter/internal/logger"
	"go.xela.dev/mffilter/internal/miniflux"
	"go.xela.dev/mffilter/internal/request"
	"go.xela.dev/mffilter/internal/rules"
	"go.xela.dev/mffilter/internal/web"
	"go.xela.dev/mffilter/internal/webui"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// logStreamSize is how many recent log lines are kept for the web UI.
const logStreamSize = 300

// Some types of errors that can happen during mffilter execution.
var (
	errNoURL      = errors.New("MINIFLUX_URL environment variable is not set")
	errNoToken    = errors.New("MINIFLUX_API_TOKEN environment variable is not set")
	errInvalidURL = errors.New("MINIFLUX_URL must start with http:// or https://")
	errValidation = errors.New("validation failed")
)

func main() { cli.Main(new(app)) }

func (a *app) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: evaluate rules, but don't mark anything as read.")
	fs.BoolVar(&a.verbose, "verbose", false, "Enable debug logging.")
}

type app struct {
	init sync.Once

	// configuration
	dry        bool
	verbose    bool
	url        string
	token      string
	interval   time.Duration
	rulesDir   string
	webEnabled bool
	webAddr    string
	logLevel   string

	// initialized by doInit
	httpc     *http.Client
	fp        *gofeed.Parser
	slog      *slog.Logger
	slogLevel *slog.LevelVar
	logStream logger.Streamer
	client    *miniflux.Client
	store     *rules.Store
	engine    *filter.Engine

	// serveReady, if set, is called when the web server is about to accept
	// connections. Used in tests.
	serveReady func()
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	// Load configuration from environment variables.
	a.url = cmp.Or(a.url, env.Getenv("MINIFLUX_URL"))
	if a.url == "" {
		return errNoURL
	}
	if !strings.HasPrefix(a.url, "http://") && !strings.HasPrefix(a.url, "https://") {
		return fmt.Errorf("%w, got %q", errInvalidURL, a.url)
	}
	a.url = strings.TrimSuffix(a.url, "/")

	a.token = cmp.Or(a.token, env.Getenv("MINIFLUX_API_TOKEN"))
	if a.token == "" {
		return errNoToken
	}

	if a.interval == 0 {
		secs := cmp.Or(env.Getenv("MINIFLUX_FILTER_POLL_INTERVAL"), "300")
		n, err := strconv.Atoi(secs)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MINIFLUX_FILTER_POLL_INTERVAL %q", secs)
		}
		a.interval = time.Duration(n) * time.Second
	}

	a.rulesDir = cmp.Or(a.rulesDir, env.Getenv("MINIFLUX_FILTER_RULES_DIR"), "rules")
	a.webAddr = cmp.Or(a.webAddr, env.Getenv("MINIFLUX_FILTER_WEB_ADDR"), "localhost:8080")
	a.logLevel = cmp.Or(a.logLevel, env.Getenv("MINIFLUX_FILTER_LOG_LEVEL"), "info")

	webEnabled, err := strconv.ParseBool(cmp.Or(env.Getenv("MINIFLUX_FILTER_WEB_ENABLED"), "true"))
	if err != nil {
		return fmt.Errorf("invalid MINIFLUX_FILTER_WEB_ENABLED: %v", err)
	}
	a.webEnabled = webEnabled

	// Initialize internal state.
	a.init.Do(func() {
		a.doInit(ctx)
	})

	if a.verbose {
		a.slogLevel.Set(slog.LevelDebug)
	}

	command := "serve"
	if len(env.Args) > 0 {
		command = env.Args[0]
	}

	switch command {
	case "serve":
		return a.serve(ctx)
	case "run":
		return a.runOnce(ctx, env.Stdout)
	case "validate":
		return a.validate(env.Args[1:], env.Stdout)
	case "preview":
		if len(env.Args) != 2 {
			return fmt.Errorf("%w: preview command expects a feed id", cli.ErrInvalidArgs)
		}
		return a.preview(ctx, env.Args[1], env.Stdout)
	case "feeds":
		return a.listFeeds(ctx, env.Stdout)
	case "stats":
		return a.stats(env.Stdout)
	default:
		return fmt.Errorf("%w: unknown command %q, see -help for usage", cli.ErrInvalidArgs, command)
	}
}

func (a *app) doInit(ctx context.Context) {
	env := cli.GetEnv(ctx)

	if a.httpc == nil {
		a.httpc = request.DefaultClient
	}
	a.fp = gofeed.NewParser()
	a.fp.Client = a.httpc

	a.slogLevel = new(slog.LevelVar)
	switch strings.ToLower(a.logLevel) {
	case "debug":
		a.slogLevel.Set(slog.LevelDebug)
	case "warn":
		a.slogLevel.Set(slog.LevelWarn)
	case "error":
		a.slogLevel.Set(slog.LevelError)
	default:
		a.slogLevel.Set(slog.LevelInfo)
	}

	a.logStream = logger.NewStreamer(logStreamSize)
	a.slog = slog.New(slog.NewTextHandler(io.MultiWriter(env.Stderr, a.logStream), &slog.HandlerOptions{
		Level: a.slogLevel,
	}))

	a.client = miniflux.NewClient(a.url, a.token, a.httpc)
	a.store = rules.NewStore(a.rulesDir, a.slog)
	a.engine = filter.New(filter.Config{
		Client:   a.client,
		Store:    a.store,
		Log:      a.slog,
		Interval: a.interval,
		Dry:      a.dry,
	})
}

// serve runs the poll loop and, unless disabled, the web interface until ctx
// is canceled.
func (a *app) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.engine.Run(ctx) })

	if a.webEnabled {
		g.Go(func() error {
			mux := http.NewServeMux()
			ui := &webui.Server{
				Store:  a.store,
				Client: a.client,
				Engine: a.engine,
				Logs:   a.logStream,
			}
			ui.RegisterRoutes(mux)

			web.Health(mux).RegisterFunc("cycle", func() (string, bool) {
				lc := a.engine.LastCycle()
				switch {
				case lc.Time.IsZero():
					return "no cycle completed yet", true
				case lc.Err != "":
					return lc.Err, false
				}
				return fmt.Sprintf("last cycle at %s", lc.Time.Format(time.RFC3339)), true
			})

			dbg := web.Debugger(mux)
			dbg.KV("Rules directory", a.rulesDir)
			dbg.KV("Poll interval", a.interval)
			dbg.Link("/api/stats", "Filter stats")
			dbg.Link("/api/logs", "Recent logs")

			return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
				Addr:       a.webAddr,
				Mux:        mux,
				Debuggable: true,
				Ready:      a.serveReady,
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) runOnce(ctx context.Context, w io.Writer) error {
	if _, err := a.client.Me(ctx); err != nil {
		return fmt.Errorf("connecting to Miniflux at %s: %w", a.client.BaseURL(), err)
	}
	stats, err := a.engine.Cycle(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "feeds: %d\nprocessed: %d\nfiltered: %d\nerrors: %d\n",
		stats.Feeds, stats.Processed, stats.Filtered, stats.Errors)
	return nil
}

func (a *app) validate(args []string, w io.Writer) error {
	files := args
	if len(files) == 0 {
		for _, pat := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(a.rulesDir, pat))
			if err != nil {
				return err
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		fmt.Fprintf(w, "no rule files found in %s\n", a.rulesDir)
		return nil
	}

	var failed int
	for _, file := range files {
		rs, err := a.store.LoadFile(file)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", file, err)
			continue
		}
		fmt.Fprintf(w, "%s: OK (feed %d, %d rules)\n", file, rs.FeedID, len(rs.Rules))
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d rule files are invalid", errValidation, failed, len(files))
	}
	return nil
}

// preview fetches the feed's upstream content directly and dry-runs the
// feed's rule set against the current items. Miniflux entry state is not
// touched, so it is safe to run while authoring rules.
func (a *app) preview(ctx context.Context, arg string, w io.Writer) error {
	feedID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid feed id %q", cli.ErrInvalidArgs, arg)
	}

	rs, err := a.store.Load(feedID)
	if err != nil {
		return err
	}
	feed, err := a.client.FeedByID(ctx, feedID)
	if err != nil {
		return err
	}
	parsed, err := a.fp.ParseURLWithContext(feed.FeedURL, ctx)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", feed.FeedURL, err)
	}

	eval := rules.NewEvaluator(a.slog)
	var matches int
	for _, item := range parsed.Items {
		idx := eval.Evaluate(rs, itemArticle(item))
		if len(idx) == 0 {
			fmt.Fprintf(w, "      %s\n", item.Title)
			continue
		}
		matches++
		var nums []string
		for _, i := range idx {
			nums = append(nums, strconv.Itoa(i+1))
		}
		fmt.Fprintf(w, "MATCH %s (rule %s)\n", item.Title, strings.Join(nums, ", "))
	}
	fmt.Fprintf(w, "\n%d of %d items would be marked as read\n", matches, len(parsed.Items))
	return nil
}

// itemArticle converts a raw feed item into the evaluator's view.
func itemArticle(item *gofeed.Item) *rules.Article {
	var author string
	if len(item.Authors) > 0 {
		author = item.Authors[0].Name
	}
	return &rules.Article{
		Title:   item.Title,
		URL:     item.Link,
		Content: cmp.Or(item.Content, item.Description),
		Author:  author,
		Tags:    item.Categories,
	}
}

func (a *app) listFeeds(ctx context.Context, w io.Writer) error {
	feeds, err := a.client.Feeds(ctx)
	if err != nil {
		return err
	}
	byFeed, err := a.store.ByFeed()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tRULES")
	for _, f := range feeds {
		ruleCount := "-"
		if rs, ok := byFeed[f.ID]; ok {
			ruleCount = strconv.Itoa(len(rs.Rules))
			if !rs.IsEnabled() {
				ruleCount += " (disabled)"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.ID, f.Title, ruleCount)
	}
	return tw.Flush()
}

func (a *app) stats(w io.Writer) error {
	stats, err := a.engine.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "rule sets: %d\nenabled rule sets: %d\nrules: %d\n",
		stats.RuleSets, stats.EnabledRuleSets, stats.Rules)
	return nil
}
