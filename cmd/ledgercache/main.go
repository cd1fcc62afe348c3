// Package main provides the entry point for the ledgercache CLI.
package main

import (
	"github.com/xrpldata/ledgercache/internal/cli"
)

func main() {
	cli.Execute()
}
