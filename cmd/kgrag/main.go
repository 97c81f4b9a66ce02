// Package main is the entry point for the kgrag service and CLI.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/kgrag/internal/kgrag"
)

func main() {
	kgrag.NewApp().Run()
}
