// Package main is the entry point for the stampede worker.
package main

import (
	"os"

	"github.com/stampede/stampede/cmd/stampede/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
