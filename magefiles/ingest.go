//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// dataDir is where Ingest writes downloads and the database. DATA_DIR
// overrides it.
func dataDir() string {
	if d := os.Getenv("DATA_DIR"); d != "" {
		return d
	}
	return "data"
}

// Ingest downloads the DBLP corpus and rebuilds the database.
func Ingest() error {
	mg.Deps(Init, Build)
	fmt.Println("[ingest] Building the DBLP database in", dataDir())
	return sh.RunV("bin/"+binName, "build",
		"--data-dir", dataDir(),
		"--metrics-file", "output/dblp.prom",
	)
}

// Health checks the database built by Ingest.
func Health() error {
	mg.Deps(Build)
	return sh.RunV("bin/"+binName, "health", "--data-dir", dataDir())
}
