package main

import (
	"os"

	"github.com/dteixeira/mmbridge/cmd/mmbridge"
)

func main() {
	if err := mmbridge.Execute(); err != nil {
		os.Exit(1)
	}
}
