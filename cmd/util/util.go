package util

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

// HandleFatalError prints the error in its friendliest form and exits with a
// non-zero status.
func HandleFatalError(err error) {
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// HandlePanic recovers from panics in the main goroutine so that we can log
// the stack trace before crashing.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	log.WithField("stack", string(debug.Stack())).Errorf("Panicked: %v", r)
	os.Exit(1)
}
