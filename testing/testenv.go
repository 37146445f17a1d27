// Package testing switches the binaries into test mode when imported for its
// side effects, so a test can call main without opening connections.
package testing

import "os"

func init() {
	_ = os.Setenv("BIZPULSE_TEST_MODE", "1")
	if os.Getenv("GOTENBERG_URL") == "" {
		_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
	}
}
