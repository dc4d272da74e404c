package main

import (
	"errors"
	"fmt"
	"os"

	"adspend-etl/internal/app"
	"adspend-etl/internal/logging"
)

// main is the entry point for the adspend-etl command.
func main() {
	runner := app.NewAppRunner()

	err := runner.Run(os.Args[1:])
	if err != nil {
		printUsage := errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) ||
			errors.Is(err, app.ErrMissingArgs) || errors.Is(err, app.ErrUnknownCommand)
		if printUsage {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// The failure must be visible even when -loglevel=none.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "Application execution failed: %v", err)
		os.Exit(1)
	}

	logging.Logf(logging.Debug, "adspend-etl completed successfully.")
}
