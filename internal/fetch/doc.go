// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fetch retrieves external content for summarisation.
//
// YouTube transcripts are downloaded as WebVTT subtitles with yt-dlp,
// flattened to plain text and cached on disk by URL hash. Web pages are
// fetched over HTTP and reduced to readable text with bluemonday's strict
// policy. Both respect the offline guard.
package fetch
