// Package main is the petstock command line.
package main

import (
	"os"

	"github.com/kimhsiao/petstock/internal/cli"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	os.Exit(cli.Execute(Version, os.Args[1:], os.Stdout, os.Stderr))
}
