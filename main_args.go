package main

import "github.com/alexflint/go-arg"

// cliArgs are flags that short-circuit the normal env-driven startup path;
// every operational setting still lives in config.C per §6.
type cliArgs struct {
	Version     bool `arg:"--version" help:"print the relay version and exit"`
	ConfigCheck bool `arg:"--config-check" help:"load and validate configuration, then exit"`
}

func parseArgs() cliArgs {
	var a cliArgs
	arg.MustParse(&a)
	return a
}
