package main

import (
	"fmt"
	"os"

	"github.com/printshop-ops/rlsctl/cmd"
)

func main() {
	if err := cmd.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd.Execute()
}
