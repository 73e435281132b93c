package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kass/go-mart-connect/pkg/catalog"
	"github.com/kass/go-mart-connect/pkg/geo"
	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// defaultDemoOptions scatters sellers around central Bengaluru.
func defaultDemoOptions() catalog.DemoOptions {
	return catalog.DemoOptions{
		Center:         models.Coordinate{Lat: 12.9716, Lon: 77.5946},
		RadiusKm:       25,
		Sellers:        200,
		ItemsPerSeller: 8,
		UnlocatedEvery: 20,
		Workers:        runtime.NumCPU(),
		Seed:           1,
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	log.Info().Int("sellers", seedOpts.Sellers).Int("itemsPerSeller", seedOpts.ItemsPerSeller).
		Float64("radiusKm", seedOpts.RadiusKm).Msg("Generating demo catalogue")
	start := time.Now()
	sellers, items := catalog.GenerateDemo(seedOpts)
	if err := catalog.Load(ctx, b.store, sellers, items); err != nil {
		return err
	}
	log.Info().Int("sellers", len(sellers)).Int("items", len(items)).Dur("took", time.Since(start)).Msg("Demo catalogue loaded")

	index := geo.NewSellerIndex()
	n, err := index.Index(sellers)
	if err != nil {
		return fmt.Errorf("failed to index sellers: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.IndexFile), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	if err := index.SaveToFile(cfg.IndexFile); err != nil {
		return err
	}
	if fi, err := os.Stat(cfg.IndexFile); err == nil {
		log.Info().Str("file", cfg.IndexFile).Int("indexed", n).Float64("sizeKb", float64(fi.Size())/1024).Msg("Seller index saved")
	}
	return nil
}

func runNearby(cmd *cobra.Command, args []string) error {
	center := models.Coordinate{Lat: nearbyLat, Lon: nearbyLon}
	if err := center.Validate(); err != nil {
		return err
	}

	index := geo.NewSellerIndex()
	if err := index.LoadFromFile(cfg.IndexFile); err != nil {
		return err
	}
	log.Info().Str("file", cfg.IndexFile).Int64("sellers", index.Count()).Msg("Seller index loaded")

	var found []geo.Neighbor
	if nearbyRadius > 0 {
		var err error
		if found, err = index.QueryRadius(center, nearbyRadius); err != nil {
			return err
		}
		if len(found) > nearbyK {
			found = found[:nearbyK]
		}
	} else {
		found = index.Nearest(center, nearbyK)
	}

	out := cmd.OutOrStdout()
	if nearbyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}
	fmt.Fprintf(out, "%-4s %-36s %-28s %10s\n", "#", "SELLER", "NAME", "KM")
	fmt.Fprintln(out, strings.Repeat("-", 82))
	for i, n := range found {
		fmt.Fprintf(out, "%-4d %-36s %-28s %10.2f\n", i+1, n.Seller.SellerID, n.Seller.Name, n.DistanceKm)
	}
	return nil
}

func runGeocode(cmd *cobra.Command, args []string) error {
	client := geo.NewNominatimClient(cfg.GeocoderURL, cfg.GeocoderUserAgent)
	results, err := client.Search(cmd.Context(), strings.Join(args, " "), geocodeLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "%10.5f %11.5f  %s\n", r.Coordinate.Lat, r.Coordinate.Lon, r.DisplayName)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
	}
	return nil
}
