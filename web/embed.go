package web

import "embed"

// FS contains the embedded control panel.
//
//go:embed index.html
var FS embed.FS
