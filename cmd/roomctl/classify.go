package main

import (
	"fmt"

	"roomwatch/internal/core/services"
	"roomwatch/pkg/config"

	"github.com/spf13/cobra"
)

var classifyOpts struct {
	Bandwidth  float64
	RTT        float64
	Jitter     float64
	Loss       float64
	ConfigPath string
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify link metrics into a quality tier",
	Example: `  roomctl classify --bandwidth 3.2 --rtt 80 --jitter 12 --loss 0.4
  roomctl classify --config configs/config.yaml --bandwidth 1 --rtt 250`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bands := config.DefaultConfig().Quality.Bands
		if classifyOpts.ConfigPath != "" {
			cfg, err := config.Load(classifyOpts.ConfigPath)
			if err != nil {
				return err
			}
			bands = cfg.Quality.Bands
		}

		if classifyOpts.Bandwidth < 0 || classifyOpts.RTT < 0 || classifyOpts.Jitter < 0 || classifyOpts.Loss < 0 {
			return fmt.Errorf("metrics must be >= 0")
		}

		qs := services.NewQualityService(bands)
		tier := qs.ClassifyValues(classifyOpts.Bandwidth, classifyOpts.RTT, classifyOpts.Jitter, classifyOpts.Loss)
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"tier":  tier,
			"label": tier.Label(),
			"color": tier.Color(),
		})
	},
}

func init() {
	classifyCmd.Flags().Float64Var(&classifyOpts.Bandwidth, "bandwidth", 0, "bandwidth in Mbps")
	classifyCmd.Flags().Float64Var(&classifyOpts.RTT, "rtt", 0, "round trip time in ms")
	classifyCmd.Flags().Float64Var(&classifyOpts.Jitter, "jitter", 0, "jitter in ms")
	classifyCmd.Flags().Float64Var(&classifyOpts.Loss, "loss", 0, "packet loss in percent")
	classifyCmd.Flags().StringVar(&classifyOpts.ConfigPath, "config", "", "read quality bands from this config file")
}
