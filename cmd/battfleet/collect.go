package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battfleet/pkg/collector"
	"github.com/charlie0129/battfleet/pkg/telemetry"
)

func NewCollectCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "collect",
		GroupID: gDevice,
		Short:   "Print the battery telemetry record of this Mac",
		Long: `Print the battery telemetry record of this Mac.

The record is a single line of 11 comma separated fields, or "None" if this
Mac has no battery. It is meant to be the output of a device management
custom attribute script:

  health%,cycles,full mAh,design mAh,current mAh,charging,on AC,minutes left,mV,condition,over 1000 cycles`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, ok := collector.NewDefault().Collect(cmd.Context())
			if !ok {
				logrus.Debug("no battery found")
				if asJSON {
					cmd.Println("null")
					return nil
				}
				cmd.Println(telemetry.Encode(nil))
				return nil
			}

			b := telemetry.Normalize(*raw)
			if !raw.HasCondition() {
				logrus.Debugf("no condition reported, assuming %s", b.ConditionOr(telemetry.DefaultCondition))
			}

			if asJSON {
				out, err := json.MarshalIndent(b, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return nil
			}

			cmd.Println(telemetry.Encode(&b))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")

	return cmd
}

func NewDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "decode [record]",
		GroupID: gDevice,
		Short:   "Decode a telemetry record",
		Long: `Decode a telemetry record and print its fields.

The record is read from stdin if it is not given as an argument. Fields that
cannot be parsed are shown as "-".`,
		Example: `  battfleet decode '85,423,4200,4941,3890,True,False,182,12100,Normal,False'
  battfleet collect | battfleet decode`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var record string
			if len(args) == 1 {
				record = args[0]
			} else {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				record = string(b)
			}

			b := telemetry.Decode(record)
			if !b.HasData() {
				cmd.Println("No battery data in record.")
				return nil
			}
			printBattery(cmd, "", b)
			return nil
		},
	}
}

func printBattery(cmd *cobra.Command, indent string, b telemetry.Battery) {
	line := func(name, value string) {
		cmd.Printf("%s%s %s\n", indent, name+":", value)
	}

	health := optInt(b.HealthPercent, "%")
	if h, ok := b.Health(); ok && h < 80 {
		health = warn("%s", health)
	}
	line("Health", bold("%s", health))
	line("Cycle count", optInt(b.CycleCount, ""))
	line("Full charge capacity", optInt(b.FullChargeCapacity, " mAh"))
	line("Design capacity", optInt(b.DesignCapacity, " mAh"))
	line("Current capacity", optInt(b.CurrentCapacity, " mAh"))
	line("Charging", optBool(b.IsCharging))
	line("External power", optBool(b.ExternalPowerConnected))
	line("Time remaining", optInt(b.TimeRemaining, " min"))
	line("Voltage", optInt(b.Voltage, " mV"))

	cond := "-"
	if b.Condition != nil {
		cond = string(*b.Condition)
		if b.Condition.NeedsService() {
			cond = warn("%s", cond)
		}
	}
	line("Condition", cond)
	line("Over "+fmt.Sprint(telemetry.CycleThreshold)+" cycles", optBool(b.OverThreshold))
}

