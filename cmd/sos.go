package cmd

import (
	"github.com/spf13/cobra"

	"github.com/loadline/dispatchd/app"
	"github.com/loadline/dispatchd/core/model"
	"github.com/loadline/dispatchd/core/sos"
)

var (
	sosDriverID string
	sosLoadID   string
	sosMessage  string
	sosLat      float64
	sosLng      float64
)

var sosCmd = &cobra.Command{
	Use:   "sos",
	Short: "Inject a driver emergency alert command",
	RunE:  runSOS,
}

func init() {
	sosCmd.Flags().StringVar(&sosDriverID, "driver", "", "driver ID")
	sosCmd.Flags().StringVar(&sosLoadID, "load", "", "load ID")
	sosCmd.Flags().StringVar(&sosMessage, "message", "", "free-form context")
	sosCmd.Flags().Float64Var(&sosLat, "lat", 0, "latitude")
	sosCmd.Flags().Float64Var(&sosLng, "lng", 0, "longitude")
	_ = sosCmd.MarkFlagRequired("driver")
	_ = sosCmd.MarkFlagRequired("lat")
	_ = sosCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(sosCmd)
}

func runSOS(cmd *cobra.Command, args []string) error {
	return publishCommand(app.CmdSOSCreate, sos.CreateRequest{
		DriverID: sosDriverID,
		LoadID:   sosLoadID,
		Message:  sosMessage,
		Location: &model.LatLng{Lat: sosLat, Lng: sosLng},
	})
}
