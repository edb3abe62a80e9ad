// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"html"
	"regexp"
	"strings"
)

var (
	vttTagRegex    = regexp.MustCompile(`<[^>]*>`)
	vttCueIDRegex  = regexp.MustCompile(`^[0-9]+$`)
	vttHeaderRegex = regexp.MustCompile(`^(WEBVTT|NOTE|STYLE|REGION|Kind:|Language:)`)
)

// CleanVTT turns a WebVTT subtitle file into plain transcript text.
//
// Headers, cue timings, numeric cue IDs and inline tags are dropped, and
// consecutive duplicate lines are collapsed: auto-generated captions repeat
// each line across overlapping cues.
func CleanVTT(vtt string) string {
	var (
		kept []string
		last string
	)
	for _, line := range strings.Split(strings.ReplaceAll(vtt, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "-->") || vttHeaderRegex.MatchString(line) || vttCueIDRegex.MatchString(line) {
			continue
		}
		line = vttTagRegex.ReplaceAllString(line, "")
		line = strings.Join(strings.Fields(html.UnescapeString(line)), " ")
		if line == "" || line == last {
			continue
		}
		kept = append(kept, line)
		last = line
	}
	return strings.Join(kept, " ")
}
