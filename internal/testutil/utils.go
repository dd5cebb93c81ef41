package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger prefixed with the running test's name so
// interleaved output from concurrent tests stays attributable. It
// writes to stdout rather than t.Log because connection and store
// goroutines may outlive the test body.
func TestLogger(t testing.TB) *log.Logger {
	return log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmsgprefix)
}
