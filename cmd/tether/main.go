package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/tether/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Commands report their own failures; this covers flag and usage errors.
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
