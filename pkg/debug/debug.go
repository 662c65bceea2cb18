// Package debug provides global debug logging flags
package debug

import "fmt"

// Enabled controls whether debug logging is active
var Enabled bool

// Detection controls per-candidate detection logs (box, class, confidence).
// Use the -debug-detection flag to enable these very verbose logs
var Detection bool

// Log prints a message only if debug mode is enabled
func Log(format string, args ...any) {
	if Enabled {
		fmt.Printf(format, args...)
	}
}

// DetectLog prints a message only if detection debug mode is enabled
func DetectLog(format string, args ...any) {
	if Detection {
		fmt.Printf(format, args...)
	}
}
