// structure_threader runs STRUCTURE, fastStructure, MavericK, ALStructure
// and Neural ADMIXTURE in parallel over a range of K values.
//
// Build with:
//
//	go build -ldflags "-X github.com/popgen/structure-threader/internal/version.Version=v1.6.0" .
package main

import (
	"os"

	"github.com/popgen/structure-threader/internal/cli"
	"github.com/popgen/structure-threader/internal/version"
)

func main() {
	// internal/version is the single source of truth
	cli.Version = version.Version
	cli.BuildTime = version.BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
