// Command t2i lists text-to-image models on the HuggingFace hub and serves
// an image generation API on top of the hosted inference service.
package main

import (
	"fmt"
	"os"

	"github.com/takuphilchan/offgrid-t2i/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Default().Sync()
		os.Exit(1)
	}
}
