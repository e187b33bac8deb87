// Command sarvamrelay bridges Vapi custom-transcriber calls to Sarvam
// streaming speech-to-text.
//
// Usage:
//
//	sarvamrelay serve [--config relay.yaml] [--env-file .env]
//	sarvamrelay version
package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/sarvamrelay/cmd/sarvamrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
