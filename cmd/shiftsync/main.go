package main

import (
	"context"
	"fmt"
	"os"

	"shiftsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
