package main

import (
	"os"

	engramcmder "github.com/papercomputeco/engram/cmd/engram"
)

func main() {
	if err := engramcmder.NewEngramCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
