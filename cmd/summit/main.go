// Command summit records meetings from the microphone, streams them to the
// backend for storage and live transcription, and shows the transcript.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
