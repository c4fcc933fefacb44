//go:build linux

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/smazurov/videobuf/internal/api"
	"github.com/smazurov/videobuf/internal/api/models"
	"github.com/smazurov/videobuf/internal/logging"
	"github.com/spf13/cobra"
)

// deviceReport is one device with its capture formats.
type deviceReport struct {
	models.DeviceInfo
	Formats []models.FormatInfo `json:"formats"`
}

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long:  `Lists V4L2 capture devices with their stable IDs and the pixel formats of their capture queue.`,
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			logger := logging.GetLogger("devices")

			reports, err := collectDevices(api.NewV4L2Lister())
			if err != nil {
				logger.Error("Failed to list devices", "error", err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					logger.Error("Failed to encode devices", "error", err)
					os.Exit(1)
				}
				return
			}
			printDevices(c.OutOrStdout(), reports)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// collectDevices queries every device's formats. A device whose formats
// cannot be read is listed without them.
func collectDevices(lister api.DeviceLister) ([]deviceReport, error) {
	devices, err := lister.Devices()
	if err != nil {
		return nil, err
	}
	logger := logging.GetLogger("devices")

	reports := make([]deviceReport, 0, len(devices))
	for _, d := range devices {
		formats, err := lister.Formats(d.DeviceID)
		if err != nil {
			logger.Warn("Failed to read device formats", "device", d.DevicePath, "error", err)
		}
		reports = append(reports, deviceReport{DeviceInfo: d, Formats: formats})
	}
	return reports, nil
}

func printDevices(w io.Writer, reports []deviceReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No capture devices found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME\tID\tPLANES\tFORMATS")
	for _, r := range reports {
		planes := "single"
		if r.MultiPlanar {
			planes = "multi"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.DevicePath, r.DeviceName, r.DeviceID, planes, fourccList(r.Formats))
	}
	_ = tw.Flush()
}

func fourccList(formats []models.FormatInfo) string {
	if len(formats) == 0 {
		return "-"
	}
	s := ""
	for i, f := range formats {
		if i > 0 {
			s += ","
		}
		s += f.FourCC
		if f.Emulated {
			s += "*"
		}
	}
	return s
}
