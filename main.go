package main

import (
	"errors"
	"os"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}

	var exitErr *triggerExitError
	if errors.As(err, &exitErr) {
		os.Stderr.WriteString(exitErr.Error() + "\n")
		os.Exit(triggerExitCode(err))
	}

	exitOnError(err)
}
