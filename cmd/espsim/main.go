// Command espsim runs a standalone simulated ESPHome device, for
// exercising espctl (or any other native-api client) without real
// hardware.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/esphome/esptest"
)

var (
	flagAddress   string
	flagPassword  string
	flagDeepSleep bool
	flagName      string
)

var rootCmd = &cobra.Command{
	Use:   "espsim",
	Short: "Run a simulated ESPHome native API device",
	RunE:  run,
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flags := rootCmd.Flags()
	flags.StringVar(&flagAddress, "address", "127.0.0.1:6053", "listen address")
	flags.StringVar(&flagPassword, "password", "", "require this legacy password on Connect")
	flags.BoolVar(&flagDeepSleep, "deep-sleep", false, "report has_deep_sleep in DeviceInfoResponse")
	flags.StringVar(&flagName, "name", "espsim", "device name reported in Hello/DeviceInfo")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("espsim")
	}
}

func run(cmd *cobra.Command, args []string) error {
	device := esptest.NewDevice(
		esptest.WithAddress(flagAddress),
		esptest.WithPassword(flagPassword),
		esptest.WithDeepSleep(flagDeepSleep),
		esptest.WithName(flagName),
		esptest.WithEntities(
			api.ListEntitiesSwitchResponse{EntityBase: api.EntityBase{Key: 1, ObjectID: "relay", Name: "Relay"}},
			api.ListEntitiesSensorResponse{EntityBase: api.EntityBase{Key: 2, ObjectID: "uptime", Name: "Uptime"}, UnitOfMeasurement: "s"},
		),
	)
	if err := device.Start(); err != nil {
		return err
	}
	defer device.Close()

	log.Info().Str("address", device.Addr()).Str("name", flagName).Msg("espsim listening")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info().Msg("espsim shutting down")
	return nil
}
