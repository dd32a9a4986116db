// Command ema-duplex holds a spoken conversation with a language model.
//
// Usage:
//
//	ema-duplex [flags]
//	ema-duplex config [flags]
//
// Speech is transcribed while the user talks, every final transcript is
// answered and the answer is spoken back one sentence at a time. The
// microphone stays muted until the answer finished playing.
package main

import (
	"fmt"
	"os"

	"github.com/koscakluka/ema-duplex/cmd/ema-duplex/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
