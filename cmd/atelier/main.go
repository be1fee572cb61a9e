// Command atelier drives AI coding CLIs through a common plugin interface.
package main

import (
	"os"

	"github.com/tessro/atelier/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
