// Package dashboard embeds the live channel view served at "/".
package dashboard

import "embed"

// Assets holds assets/index.html, a single page that renders the latest
// channel values and refreshes on every cycle pushed over /api/sse.
//
//go:embed assets/*
var Assets embed.FS
