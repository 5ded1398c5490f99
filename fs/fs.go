// Package appfs embeds the database migrations and the static assets (email templates, password lists).
package appfs

import "embed"

//go:embed migrations all:assets
var FS embed.FS
