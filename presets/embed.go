// Package presets embeds the bundled vendor signature packs.
//
// This ensures presets are available regardless of installation method
// (Homebrew, Docker, or manual download). The signature library falls
// back to these embedded packs when no on-disk preset file exists.
//
// Usage:
//
//	fs := presets.FS
//	data, _ := fs.ReadFile("cloudflare.yaml")
package presets

import "embed"

// FS contains the bundled signature preset YAML files. Each file holds
// vendor-specific block-page patterns for one defensive product.
//
//go:embed *.yaml
var FS embed.FS
