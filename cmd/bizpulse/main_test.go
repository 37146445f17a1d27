package main

import (
	"testing"

	_ "github.com/bizpulse/bizpulse/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	main()
}
