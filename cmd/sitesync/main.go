// Command sitesync keeps a site's database in sync with central.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sitesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
