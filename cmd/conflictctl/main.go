package main

import (
	"fmt"
	"os"

	"github.com/jacksonlee411/catalog-erp-conflicts/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "conflictctl: "+cli.ErrorLine(err))
		os.Exit(cli.ExitCode(err))
	}
}
