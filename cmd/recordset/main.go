// Command recordset inspects entity schemas, reads and soft-deletes records
// through repositories, and runs YAML scenarios.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/recordset/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := cli.NewRootCommand().ExecuteContext(ctx)
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintln(os.Stderr, err)
	}
	stop()
	os.Exit(cli.GetExitCode(err))
}
