package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loadline/dispatchd/app"
	"github.com/loadline/dispatchd/config"
	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/infra/logger"
	"github.com/loadline/dispatchd/infra/mqtt"
)

var (
	offerLoadID    string
	offerDriverID  string
	offerTruckID   string
	offerTrailerID string
	offerActor     string
)

var offerCmd = &cobra.Command{
	Use:   "offer",
	Short: "Inject an assignment offer command",
	RunE:  runOffer,
}

func init() {
	offerCmd.Flags().StringVar(&offerLoadID, "load", "", "load ID")
	offerCmd.Flags().StringVar(&offerDriverID, "driver", "", "driver ID")
	offerCmd.Flags().StringVar(&offerTruckID, "truck", "", "truck ID")
	offerCmd.Flags().StringVar(&offerTrailerID, "trailer", "", "trailer ID")
	offerCmd.Flags().StringVar(&offerActor, "actor", "cli", "acting user ID")
	_ = offerCmd.MarkFlagRequired("load")
	_ = offerCmd.MarkFlagRequired("driver")
	_ = offerCmd.MarkFlagRequired("truck")
	rootCmd.AddCommand(offerCmd)
}

func runOffer(cmd *cobra.Command, args []string) error {
	return publishCommand(app.CmdOffer, app.OfferCommand{
		LoadID:    offerLoadID,
		DriverID:  offerDriverID,
		TruckID:   offerTruckID,
		TrailerID: offerTrailerID,
		Actor:     offerActor,
	})
}

// publishCommand connects to the broker, publishes a single command on the
// shared intake topic and disconnects.
func publishCommand(event string, payload any) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s-cli-%d", mqttCfg.ClientID, time.Now().UnixNano())

	transport, err := mqtt.NewPahoTransport(mqttCfg, logger.New("cli"))
	if err != nil {
		return fmt.Errorf("mqtt transport: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := bus.New(transport, cfg.Bus, logger.New("cli-bus"))
	ref, err := b.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer ref.Release()
	defer func() { _ = b.Close() }()

	if err := b.Publish(ctx, app.CommandTopic, event, payload); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	fmt.Println("command published:", event)
	return nil
}
