// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Mffilter automatically marks Miniflux entries as read based on user-defined
rules.

It periodically fetches the unread entries of every feed that has a rule set,
evaluates the rules against each entry and marks the matching entries as
read. Rule sets are YAML files in a directory, one file per feed:

	feed_id: 123
	feed_name: Example
	enabled: true
	rules:
	  - action: markread
	    conditions:
	      - field: title
	        operator: contains
	        value: advertisement

A rule matches when all its conditions match; independent rules are tried
separately. Conditions compare the title, content, author, url or tag field
with one of the contains, notcontains, equals, notequals, startswith,
endswith or matches (regular expression) operators. String comparisons are
case-insensitive.

# Usage

	$ mffilter [flags...] [command]

Available commands:

  - serve: run the filtering loop and the web interface. This is the default
    command.
  - run: run a single filtering cycle, then exit.
  - validate [file...]: validate rule files. With no arguments, validates
    every rule file in the rules directory.
  - preview <feed-id>: fetch the feed's upstream content directly and show
    which rules would match, without touching Miniflux entry state.
  - feeds: list Miniflux feeds and whether they have rules.
  - stats: print rule-set statistics.

# Environment Variables

The mffilter program relies on the following environment variables:

  - MINIFLUX_URL: base URL of the Miniflux server, for example
    https://reader.example.com. Required.
  - MINIFLUX_API_TOKEN: Miniflux API token. Required.
  - MINIFLUX_FILTER_POLL_INTERVAL: seconds between filtering cycles.
    Defaults to 300.
  - MINIFLUX_FILTER_RULES_DIR: directory with rule files. Defaults to
    ./rules.
  - MINIFLUX_FILTER_WEB_ENABLED: set to false to disable the web interface.
    Defaults to true.
  - MINIFLUX_FILTER_WEB_ADDR: address the web interface listens on.
    Defaults to localhost:8080.
  - MINIFLUX_FILTER_LOG_LEVEL: log level (debug, info, warn, error).
    Defaults to info.

# Web Interface

Unless disabled, serve exposes a web interface with the rule management API
(/api/rules, /api/feeds, /api/stats, /api/logs), a single-page UI at /, a
health endpoint at /health and debug handlers at /debug/.
*/
package main

import (
	_ "embed"

	"go.xela.dev/mffilter/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
