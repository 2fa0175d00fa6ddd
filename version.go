package main

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var versionFile string

func RouterVersion() string {
	return strings.TrimSpace(versionFile)
}
