package control

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"livecap/internal/capture/device"
	"livecap/internal/config"

	"github.com/spf13/cobra"
)

// NewDevicesCmd lists input devices and stores the preferred one.
func NewDevicesCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List or choose capture devices",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List input devices (loopback devices are marked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			devs, err := device.List(cfg.Audio.LoopbackDevice)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(devs)
			}
			printDevices(cmd, devs)
			return nil
		},
	}
	list.Flags().Bool("json", false, "output JSON")

	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Save the preferred input device in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			cfg.Audio.Device = args[0]
			if cmd.Flags().Changed("mic") {
				cfg.Audio.UseMic, _ = cmd.Flags().GetBool("mic")
			}
			if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
				return err
			}
			cmd.Printf("device set to %q (mic=%v) in %s\n", args[0], cfg.Audio.UseMic, cfg.Paths.ConfigPath)
			return nil
		},
	}
	set.Flags().Bool("mic", false, "treat the device as a microphone")
	cmd.AddCommand(list, set)
	return cmd
}

func printDevices(cmd *cobra.Command, devs []device.Info) {
	if len(devs) == 0 {
		cmd.Println("no input devices found")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tCH\tRATE\tFLAGS")
	for _, d := range devs {
		flags := ""
		if d.Default {
			flags += "default "
		}
		if d.Loopback {
			flags += "loopback"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.0f\t%s\n", d.Index, d.Name, d.Channels, d.SampleRate, flags)
	}
	_ = tw.Flush()
}
