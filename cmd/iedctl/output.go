package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/paularlott/cli"

	"github.com/nerrad567/substation-core/internal/eventlog"
	"github.com/nerrad567/substation-core/internal/ied"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDeviceOrJSON(cmd *cli.Command, d *ied.Device) error {
	if cmd.GetBool("json") {
		return printJSON(d)
	}
	printDevice(os.Stdout, d)
	return nil
}

func printDevices(w io.Writer, devices []ied.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tMODEL\tIP\tSTATUS\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, d.Type, d.Model, orDash(d.IP), d.Status, formatTime(d.LastSeen))
	}
	tw.Flush() //nolint:errcheck // Terminal output
}

func printDevice(w io.Writer, d *ied.Device) {
	fmt.Fprintf(w, "ID:            %s\n", d.ID)
	fmt.Fprintf(w, "Name:          %s\n", d.Name)
	fmt.Fprintf(w, "Type:          %s\n", d.Type)
	fmt.Fprintf(w, "Manufacturer:  %s\n", d.Manufacturer)
	fmt.Fprintf(w, "Model:         %s\n", d.Model)
	fmt.Fprintf(w, "Firmware:      %s\n", d.FirmwareVersion)
	fmt.Fprintf(w, "IP:            %s\n", orDash(d.IP))
	fmt.Fprintf(w, "Status:        %s (last seen %s)\n", d.Status, formatTime(d.LastSeen))
	fmt.Fprintf(w, "Data points:   %d\n", d.DataPointCount)
	fmt.Fprintf(w, "Config:        v%d, updated %s\n", d.ConfigVersion, formatTime(d.UpdatedAt))

	if g := d.ProtocolConfig.GOOSE; g.IsZero() {
		fmt.Fprintln(w, "GOOSE:         disabled")
	} else {
		fmt.Fprintf(w, "GOOSE:         APPID %s, MAC %s\n", g.AppID, g.MACAddress)
	}
	fmt.Fprintf(w, "MMS:           port %d, auth %s\n", d.ProtocolConfig.MMS.Port, d.ProtocolConfig.MMS.AuthMode)

	if len(d.LogicalDevices) > 0 {
		fmt.Fprintln(w, "Logical devices:")
		for _, ld := range d.LogicalDevices {
			fmt.Fprintf(w, "  %s\n", ld.Name)
			for _, ln := range ld.Nodes {
				fmt.Fprintf(w, "    %s (%s)\n", ln.Name, ln.Type)
			}
		}
	}
	if len(d.Datasets) > 0 {
		fmt.Fprintln(w, "Datasets:")
		printDatasets(w, d.Datasets)
	}
}

func printDatasets(w io.Writer, datasets []ied.Dataset) {
	if len(datasets) == 0 {
		fmt.Fprintln(w, "No datasets")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROTOCOL\tPOINTS\tDESCRIPTION")
	for _, ds := range datasets {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", ds.Name, ds.Protocol, ds.PointCount, ds.Description)
	}
	tw.Flush() //nolint:errcheck // Terminal output
}

func printEntries(w io.Writer, entries []eventlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No log entries")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSEVERITY\tDEVICE\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, formatTime(e.Timestamp), e.Severity, orDash(e.DeviceID), e.Message)
	}
	tw.Flush() //nolint:errcheck // Terminal output
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
