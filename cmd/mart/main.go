package main

import (
	"fmt"
	"os"

	"github.com/kass/go-mart-connect/internal/config"
	"github.com/kass/go-mart-connect/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mart",
	Short: "Local marketplace: nearby products and stock-safe checkout",
	Long:  `Serves the marketplace HTTP API and ships the tools to migrate, seed and query its data.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate a demo catalogue and save the seller index",
	Long:  `Generate random sellers and items around a centre point, load them into the configured store and write the seller index file.`,
	RunE:  runSeed,
}

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "Query the seller index file",
	Long:  `Load the seller index from disk and list sellers within a radius, or the k nearest when no radius is given.`,
	RunE:  runNearby,
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode [query]",
	Short: "Resolve a place name to coordinates",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGeocode,
}

var (
	serveSeedDemo bool

	seedOpts = defaultDemoOptions()

	nearbyLat    float64
	nearbyLon    float64
	nearbyRadius float64
	nearbyK      int
	nearbyJSON   bool

	geocodeLimit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "Directory holding app.env")

	serveCmd.Flags().BoolVar(&serveSeedDemo, "seed-demo", false, "Load a demo catalogue before serving")

	seedCmd.Flags().Float64Var(&seedOpts.Center.Lat, "lat", seedOpts.Center.Lat, "Centre latitude")
	seedCmd.Flags().Float64Var(&seedOpts.Center.Lon, "lon", seedOpts.Center.Lon, "Centre longitude")
	seedCmd.Flags().Float64VarP(&seedOpts.RadiusKm, "radius", "r", seedOpts.RadiusKm, "Scatter radius in km")
	seedCmd.Flags().IntVarP(&seedOpts.Sellers, "sellers", "s", seedOpts.Sellers, "Number of sellers")
	seedCmd.Flags().IntVarP(&seedOpts.ItemsPerSeller, "items", "i", seedOpts.ItemsPerSeller, "Items per seller")
	seedCmd.Flags().IntVar(&seedOpts.UnlocatedEvery, "unlocated-every", seedOpts.UnlocatedEvery, "Leave every n-th seller without a location (0 = none)")
	seedCmd.Flags().IntVarP(&seedOpts.Workers, "workers", "w", seedOpts.Workers, "Number of worker goroutines")
	seedCmd.Flags().Int64Var(&seedOpts.Seed, "seed", seedOpts.Seed, "Random seed")

	nearbyCmd.Flags().Float64Var(&nearbyLat, "lat", 0, "Centre latitude")
	nearbyCmd.Flags().Float64Var(&nearbyLon, "lon", 0, "Centre longitude")
	nearbyCmd.Flags().Float64VarP(&nearbyRadius, "radius", "r", 0, "Radius in km (0 = k nearest)")
	nearbyCmd.Flags().IntVarP(&nearbyK, "k", "k", 10, "Maximum number of sellers")
	nearbyCmd.Flags().BoolVar(&nearbyJSON, "json", false, "Output results as JSON")
	_ = nearbyCmd.MarkFlagRequired("lat")
	_ = nearbyCmd.MarkFlagRequired("lon")

	geocodeCmd.Flags().IntVarP(&geocodeLimit, "limit", "l", 5, "Maximum number of results")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, nearbyCmd, geocodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
