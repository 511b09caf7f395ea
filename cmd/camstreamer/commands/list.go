package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bryanchriswhite/CamStreamer/internal/capture"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture backends and cameras",
	Long: `List the capture backends CamStreamer supports and whether they can run
on this host, followed by the V4L2 devices found under /dev.

Devices must offer MJPEG to be used with the v4l2 driver.`,
	Example: `  # List backends and devices in table format (default)
  camstreamer list

  # List in JSON format
  camstreamer list --format json

  # Show supported frame sizes too
  camstreamer list --sizes`,
	RunE: runList,
}

var (
	listFormat string
	listSizes  bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listSizes, "sizes", "s", false, "show supported MJPEG frame sizes")
}

func runList(cmd *cobra.Command, args []string) error {
	backends := capture.Backends()

	devices, err := capture.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	// Output in requested format
	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{
			"backends": backends,
			"devices":  devices,
		})
	case "table":
		printBackendsTable(backends)
		fmt.Println()
		printDevicesTable(devices)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printBackendsTable(backends []capture.BackendInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "BACKEND\tAVAILABLE\tDESCRIPTION")
	fmt.Fprintln(w, "-------\t---------\t-----------")

	for _, b := range backends {
		available := "No"
		if b.Available {
			available = "Yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, available, b.Description)
	}
}

func printDevicesTable(devices []capture.DeviceInfo) {
	if len(devices) == 0 {
		fmt.Println("No V4L2 devices found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "DEVICE\tMJPEG\tFORMATS")
	fmt.Fprintln(w, "------\t-----\t-------")

	for _, d := range devices {
		mjpeg := "No"
		if d.MJPEG {
			mjpeg = "Yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Path, mjpeg, strings.Join(d.Formats, ", "))
		if listSizes && len(d.Sizes) > 0 {
			fmt.Fprintf(w, "\t\t%s\n", strings.Join(d.Sizes, " "))
		}
	}
}
