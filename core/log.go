package core

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the structured logger the core uses for everything spec.md
// §7 says must be "logged, not returned": protocol violations, discarded
// oversized bodies, and connection lifecycle notices. The teacher's own
// client/mqtt.go only guards fmt.Printf behind a debug bool; this module
// carries the pack's charmbracelet/log instead so trace-level detail
// doesn't have to be all-or-nothing (see SPEC_FULL.md "Ambient Stack").
var Logger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix: "mqttcore",
})
