// usb-detect plays a USB camera through a DeepStream detector and prints the
// per-frame vehicle and person counts.
//
// Usage:
//
//	usb-detect run [--config=<file>] [--device=/dev/video0] [--infer-config=<file>]
//	usb-detect config [--config=<file>]
//	usb-detect --version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	usbdetect "github.com/e7canasta/orion-care-sensor/modules/usb-detect"
)

// version is set at build time via -ldflags.
var version = "dev"

// exitCode is set by the subcommand that ran.
var exitCode = usbdetect.ExitOK

var rootCmd = &cobra.Command{
	Use:   "usb-detect",
	Short: "USB camera object detection with DeepStream",
	Long: `usb-detect captures a V4L2 camera, batches it through nvstreammux, runs
the primary nvinfer detector and renders the detections with nvdsosd.

One count line per buffer is printed on stdout; logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to YAML configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == usbdetect.ExitOK {
			exitCode = usbdetect.ExitCode(err)
		}
	}
	os.Exit(exitCode)
}
