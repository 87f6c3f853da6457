// Package cmd holds auxiliary CLI commands attached to the root.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yuzito/camstream/internal/camera"
)

// CreateDevicesCmd builds the devices subcommand, which lists video
// capture devices without starting the pipeline.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available camera devices",
		Long:  "Enumerates V4L2 video capture devices and their reported names.",
		Run: func(cmd *cobra.Command, args []string) {
			devices, err := camera.FindDevices()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
				os.Exit(1)
			}
			if len(devices) == 0 {
				fmt.Println("No video capture devices found")
				return
			}
			for _, d := range devices {
				fmt.Printf("%s\t%s\n", d.Path, d.Name)
			}
		},
	}
}
