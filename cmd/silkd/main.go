// Package main is the single-binary entrypoint for silkd.
package main

import (
	"github.com/silkd/silkd/internal/cli"
	"github.com/silkd/silkd/internal/daemon"
)

func main() {
	cli.Execute(daemon.Version)
}
