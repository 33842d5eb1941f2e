// usbpower-helper applies power-management flag writes with elevated
// privileges.
//
// The daemon launches this binary through the platform elevation mechanism,
// which does not pass stdio through. The two sides exchange JSON files
// instead: the helper reads the request file named by -request, applies
// every operation independently, writes its per-operation outcomes to the
// file named by -response and exits. The daemon treats a missing response
// as no-response after its deadline, so the helper never blocks on anything
// but the writes themselves.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/usbflow/usbpower-core/internal/elevate"
	"github.com/usbflow/usbpower-core/internal/regstore"
)

// Exit codes. The launcher cannot observe them directly; they exist for
// manual runs and tests.
const (
	exitOK    = 0
	exitUsage = 1
	exitError = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("usbpower-helper", flag.ContinueOnError)
	requestPath := fs.String("request", "", "path to the JSON request file")
	responsePath := fs.String("response", "", "path to write the JSON response file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *requestPath == "" || *responsePath == "" {
		fmt.Fprintln(os.Stderr, "usbpower-helper: -request and -response are required")
		return exitUsage
	}

	executor := elevate.NewExecutor(regstore.NewPlatform())
	if err := executor.Run(*requestPath, *responsePath); err != nil {
		fmt.Fprintf(os.Stderr, "usbpower-helper: %v\n", err)
		return exitError
	}
	return exitOK
}
