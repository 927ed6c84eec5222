package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"drivewatch/internal/services/homeassistant"
)

func newTestMQTTCommand(ctx *commandContext) *cobra.Command {
	var plate string
	var direction string
	cmd := &cobra.Command{
		Use:   "test-mqtt",
		Short: "Publish a test reading to Home Assistant over MQTT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.MQTT.Enabled {
				return fmt.Errorf("mqtt disabled; set mqtt.enabled = true and mqtt.broker")
			}
			direction = strings.ToLower(strings.TrimSpace(direction))
			if direction != "arriving" && direction != "departing" {
				return fmt.Errorf("--direction must be arriving or departing (got %q)", direction)
			}

			pub, err := newPublisher(cfg)
			if err != nil {
				return err
			}
			defer pub.Close()

			connectCtx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()
			if err := pub.Connect(connectCtx); err != nil {
				return err
			}
			reading := homeassistant.Reading{
				Plate:      strings.TrimSpace(plate),
				Direction:  direction,
				DetectedAt: time.Now(),
			}
			if err := pub.PublishPlate(connectCtx, reading); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			shown := reading.Plate
			if shown == "" {
				shown = "Unknown"
			}
			fmt.Fprintf(out, "Published %s (%s) to %s\n", shown, direction, cfg.MQTT.BrokerURL())
			fmt.Fprintf(out, "Check the %s device in Home Assistant\n", cfg.MQTT.DeviceName)
			return nil
		},
	}
	cmd.Flags().StringVar(&plate, "plate", "TEST123", "Plate text to publish (empty publishes Unknown)")
	cmd.Flags().StringVar(&direction, "direction", "arriving", "Direction to publish (arriving or departing)")
	return cmd
}
