package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ccbc-core/internal/brewery"
)

func newEntitiesCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "entities [file]",
		Short: "Check an entities file and list what it declares",
		Long: `Parse an entities file with the configured defaults and print every
sensor and actuator with its wiring. Without a file argument the
configured brewery.entities_file is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			path := cfg.Brewery.EntitiesFile
			if len(args) == 1 {
				path = args[0]
			}

			d := cfg.Brewery.Defaults
			store := brewery.NewStore(brewery.WithBand(cfg.Control.Band))
			err = brewery.LoadEntitiesFile(path, store, brewery.Defaults{
				HeaterSetpoint:    d.HeaterSetpoint,
				HeaterMaxTemp:     d.HeaterMaxTemp,
				InitialTemp:       d.InitialTemp,
				PressureSlope:     d.PressureSlope,
				PressureIntercept: d.PressureIntercept,
				GallonSlope:       d.GallonSlope,
				GallonIntercept:   d.GallonIntercept,
				PumpUpperGallons:  d.PumpUpperGallons,
				PumpLowerGallons:  d.PumpLowerGallons,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tID\tWIRING\tBOUND")
			for _, cat := range []brewery.Category{brewery.CategoryTemperatureSensors, brewery.CategoryPressureSensors} {
				for _, r := range store.Sensors(cat) {
					fmt.Fprintf(w, "%s\t%s\t%s\t\n", cat, r.ID, sensorWiring(r))
				}
			}
			for _, a := range store.AllActuators() {
				fmt.Fprintf(w, "%s\t%s\tpin %d\t%s\n", categoryOf(a), a.ID, a.ControlPin, a.BoundSensorID)
			}
			return w.Flush()
		},
	}
}

func sensorWiring(r brewery.SensorReading) string {
	if r.Kind == brewery.SensorTemperature {
		return "serial " + r.SourceAddress
	}
	return fmt.Sprintf("pin %d", r.Pin)
}

func categoryOf(a brewery.ActuatorSpec) brewery.Category {
	if a.Kind == brewery.ActuatorPump {
		return brewery.CategoryPumps
	}
	return brewery.CategoryHeaters
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
