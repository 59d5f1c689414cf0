// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package webui exposes the rule management API and a small single-page UI
// on top of the rule store and the filter engine.
package webui

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.xela.dev/mffilter/internal/filter"
	"go.xela.dev/mffilter/internal/logger"
	"go.xela.dev/mffilter/internal/miniflux"
	"go.xela.dev/mffilter/internal/rules"
	"go.xela.dev/mffilter/internal/web"
)

//go:embed index.html
var indexHTML []byte

// Server handles the rule management API.
//
// Rule sets are re-read from disk on every request; the poll loop and this
// server share only the store directory and the Miniflux client.
type Server struct {
	Store  *rules.Store
	Client *miniflux.Client
	Engine *filter.Engine
	Logs   logger.Streamer
}

// RegisterRoutes registers the server routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.serveIndex)
	mux.HandleFunc("GET /api/rules", s.listRules)
	mux.HandleFunc("POST /api/rules", s.createRules)
	mux.HandleFunc("GET /api/rules/{feedID}", s.getRules)
	mux.HandleFunc("PUT /api/rules/{feedID}", s.updateRules)
	mux.HandleFunc("DELETE /api/rules/{feedID}", s.deleteRules)
	mux.HandleFunc("GET /api/feeds", s.listFeeds)
	mux.HandleFunc("GET /api/stats", s.stats)
	mux.HandleFunc("GET /api/logs", s.logs)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func feedIDFromPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("feedID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid feed id %q", web.ErrBadRequest, r.PathValue("feedID"))
	}
	return id, nil
}

func decodeRuleSet(r *http.Request) (*rules.RuleSet, error) {
	var rs rules.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		return nil, fmt.Errorf("%w: %v", web.ErrBadRequest, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", web.ErrBadRequest, err)
	}
	return &rs, nil
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	all, err := s.Store.LoadAll()
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	web.RespondJSON(w, all)
}

func (s *Server) createRules(w http.ResponseWriter, r *http.Request) {
	rs, err := decodeRuleSet(r)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	if _, err := s.Store.Load(rs.FeedID); err == nil {
		web.RespondJSONError(w, r, fmt.Errorf("%w: rule set for feed %d already exists", web.ErrConflict, rs.FeedID))
		return
	} else if !errors.Is(err, rules.ErrNotFound) {
		web.RespondJSONError(w, r, err)
		return
	}
	if err := s.Store.Save(rs); err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	// Content-Type must be set before the status line is flushed.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	web.RespondJSON(w, rs)
}

func (s *Server) getRules(w http.ResponseWriter, r *http.Request) {
	feedID, err := feedIDFromPath(r)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	rs, err := s.Store.Load(feedID)
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			err = fmt.Errorf("rule set for feed %d %w", feedID, web.ErrNotFound)
		}
		web.RespondJSONError(w, r, err)
		return
	}
	web.RespondJSON(w, rs)
}

func (s *Server) updateRules(w http.ResponseWriter, r *http.Request) {
	feedID, err := feedIDFromPath(r)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	rs, err := decodeRuleSet(r)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	if rs.FeedID != feedID {
		web.RespondJSONError(w, r, fmt.Errorf("%w: feed id in body (%d) does not match path (%d)", web.ErrBadRequest, rs.FeedID, feedID))
		return
	}
	if err := s.Store.Save(rs); err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	web.RespondJSON(w, rs)
}

func (s *Server) deleteRules(w http.ResponseWriter, r *http.Request) {
	feedID, err := feedIDFromPath(r)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	if err := s.Store.Delete(feedID); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			err = fmt.Errorf("rule set for feed %d %w", feedID, web.ErrNotFound)
		}
		web.RespondJSONError(w, r, err)
		return
	}
	web.RespondJSON(w, map[string]string{"status": "deleted"})
}

// feedResponse is a Miniflux feed annotated with rule information.
type feedResponse struct {
	*miniflux.Feed
	HasRules bool `json:"has_rules"`
}

func (s *Server) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.Client.Feeds(r.Context())
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	byFeed, err := s.Store.ByFeed()
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}

	resp := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		_, hasRules := byFeed[f.ID]
		resp = append(resp, feedResponse{Feed: f, HasRules: hasRules})
	}
	web.RespondJSON(w, resp)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Engine.Stats()
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	web.RespondJSON(w, struct {
		filter.Stats
		LastCycle filter.CycleResult `json:"last_cycle"`
	}{
		Stats:     stats,
		LastCycle: s.Engine.LastCycle(),
	})
}

// logs returns a snapshot of recent log lines, or streams new ones when the
// client asks for server-sent events.
func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream") {
		s.Logs.ServeHTTP(w, r)
		return
	}
	lines := make([]string, 0)
	for _, line := range s.Logs.Lines() {
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	web.RespondJSON(w, lines)
}
