package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/esphome-go/native-api/esphome"
	"github.com/esphome-go/native-api/esphome/api"
	"github.com/esphome-go/native-api/esphome/entity"
)

var (
	flagAddress   string
	flagPassword  string
	flagKeyB64    string
	flagTimeout   time.Duration
	flagReconnect bool
)

var rootCmd = &cobra.Command{
	Use:   "espctl",
	Short: "Command-line client for the ESPHome native API",
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddress, "address", "", "device host:port")
	flags.StringVar(&flagPassword, "password", "", "legacy plaintext password")
	flags.StringVar(&flagKeyB64, "encryption-key", "", "base64-encoded 32-byte Noise PSK")
	flags.DurationVar(&flagTimeout, "timeout", 10*time.Second, "connect/operation timeout")
	flags.BoolVar(&flagReconnect, "reconnect", true, "keep reconnecting after the connection drops")
	rootCmd.MarkPersistentFlagRequired("address")

	rootCmd.AddCommand(listEntitiesCmd, subscribeCmd, logsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("espctl")
	}
}

func newClient() (*esphome.Client, error) {
	opts := []esphome.Option{esphome.WithReconnect(flagReconnect)}
	if flagPassword != "" {
		opts = append(opts, esphome.WithPassword(flagPassword))
	}
	if flagKeyB64 != "" {
		psk, err := base64.StdEncoding.DecodeString(flagKeyB64)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		opts = append(opts, esphome.WithEncryptionKey(psk))
	}
	return esphome.NewClient(flagAddress, opts...), nil
}

var listEntitiesCmd = &cobra.Command{
	Use:   "list-entities",
	Short: "Connect, enumerate entities, print them, and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), flagTimeout)
		defer cancel()
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		entities, err := client.ListEntities(ctx)
		if err != nil {
			return fmt.Errorf("list entities: %w", err)
		}
		for _, e := range entities {
			fmt.Printf("%-6d %-12s %-20s %s\n", e.Key(), e.Kind(), e.ObjectID(), e.Name())
		}
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Connect and print entity state changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		connectCtx, cancel := context.WithTimeout(ctx, flagTimeout)
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		if err := client.SubscribeStates(func(kind entity.Kind, state any) {
			fmt.Printf("%s %+v\n", kind, state)
		}); err != nil {
			return fmt.Errorf("subscribe states: %w", err)
		}

		<-ctx.Done()
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Connect and stream device log lines until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		connectCtx, cancel := context.WithTimeout(ctx, flagTimeout)
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		if err := client.SubscribeLogs(api.LogLevelDebug, func(l api.SubscribeLogsResponse) {
			fmt.Printf("[%d] %s\n", l.Level, l.Message)
		}); err != nil {
			return fmt.Errorf("subscribe logs: %w", err)
		}

		<-ctx.Done()
		return nil
	},
}
