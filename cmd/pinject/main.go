package main

import (
	"fmt"
	"os"

	"gitlab.com/tozd/go/pinject/internal/cli"
)

func main() {
	err := cli.Execute()
	code := cli.ExitCode(err)
	if err != nil && code != cli.ExitOK {
		_, _ = fmt.Fprintf(os.Stderr, "Error: % -+#.1v\n", err)
	}
	os.Exit(code)
}
