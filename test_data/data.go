package testdata

import "embed"

// Documents used by ingestion tests. Contains hidden directory and binary image that must be skipped.
//
//go:embed all:fs
var FS embed.FS
