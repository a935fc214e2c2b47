// FraudShield detects deepfake images, synthetic voices and phishing text.
//
// Usage:
//
//	# Start the HTTP API
//	fraudshield serve --config fraudshield.yaml
//
//	# Score a message locally
//	fraudshield check phishing "Verify your account now!!!!"
//
//	# Show which models are loaded
//	fraudshield models --load
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
