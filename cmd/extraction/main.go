// Package main is the entry point for the extraction binary.
package main

import (
	"os"

	"github.com/sumaris-net/sumaris-pod-sub009/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
