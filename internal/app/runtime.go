package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "BIZPULSE_TEST_MODE"

const (
	modeUnknown int32 = iota
	modeLive
	modeTest
)

var runMode atomic.Int32

// InTestMode reports whether BIZPULSE_TEST_MODE is set, in which case the
// binaries skip runtime side effects. The environment is read on first use.
func InTestMode() bool {
	if runMode.Load() == modeUnknown {
		RefreshTestMode()
	}
	return runMode.Load() == modeTest
}

// RefreshTestMode re-reads BIZPULSE_TEST_MODE.
func RefreshTestMode() {
	mode := modeLive
	if on, _ := strconv.ParseBool(os.Getenv(testModeEnv)); on {
		mode = modeTest
	}
	runMode.Store(mode)
}
