package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/pkg/weather"
)

func init() {
	rootCmd.AddCommand(locationCmd)
	locationCmd.AddCommand(locationAddCmd, locationListCmd, locationDefaultCmd, locationRmCmd, locationReorderCmd)
}

func openWeather(ctx context.Context) (*weather.Store, error) {
	s, err := weather.Open(ctx, cfg.WeatherPath(), weather.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open weather store: %w", err)
	}
	return s, nil
}

var locationCmd = &cobra.Command{
	Use:     "location",
	Aliases: []string{"loc"},
	Short:   "Saved weather locations",
}

func parseCoordinate(s, name string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return f, nil
}

var locationAddCmd = &cobra.Command{
	Use:   "add NAME LATITUDE LONGITUDE",
	Short: "Saves a location; the first one becomes the default",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := parseCoordinate(args[1], "latitude")
		if err != nil {
			return err
		}
		lon, err := parseCoordinate(args[2], "longitude")
		if err != nil {
			return err
		}
		s, err := openWeather(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		loc, err := s.AddLocation(cmd.Context(), args[0], lat, lon)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, loc)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Location '%s' saved (%s)\n", loc.Name, loc.ID)
		return nil
	},
}

var locationListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Lists saved locations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openWeather(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		locs, err := s.ListLocations(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, locs)
		}
		if len(locs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved locations")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLAT\tLON\tDEFAULT")
		for _, l := range locs {
			def := ""
			if l.IsDefault {
				def = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%s\n", l.ID, l.Name, l.Latitude, l.Longitude, def)
		}
		return w.Flush()
	},
}

var locationDefaultCmd = &cobra.Command{
	Use:   "default [ID]",
	Short: "Shows or sets the default location",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openWeather(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		if len(args) == 1 {
			if err := s.SetDefault(cmd.Context(), args[0]); err != nil {
				return err
			}
		}
		loc, err := s.GetDefault(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, loc)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default location: %s (%.4f, %.4f)\n", loc.Name, loc.Latitude, loc.Longitude)
		return nil
	},
}

var locationRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Removes a location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openWeather(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.RemoveLocation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Location removed")
		return nil
	},
}

var locationReorderCmd = &cobra.Command{
	Use:   "reorder ID...",
	Short: "Sets the display order; every saved location must be listed once",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openWeather(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Reorder(cmd.Context(), args)
	},
}
