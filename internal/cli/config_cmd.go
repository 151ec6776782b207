package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dshield/dshield/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the configuration the preload library would load",
		Long: `Show the configuration snapshot built from DSHIELD_PROXY_HOST,
DSHIELD_PROXY_PORT, DSHIELD_DEBUG and DSHIELD_LOG_FILE.

Values that are present but unusable are listed as warnings; the library
ignores them the same way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := snapshotFor(cmd)
			if outputJSON {
				b, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	return cmd
}

func printSnapshot(cmd *cobra.Command, s config.Snapshot) {
	w := cmd.OutOrStdout()
	if s.ProxyConfigured() {
		fmt.Fprintf(w, "Proxy: %s:%d\n", s.ProxyHost, s.ProxyPort)
	} else {
		fmt.Fprintln(w, "Proxy: none (loopback and local sockets only)")
	}
	debug := "off"
	if s.Debug {
		debug = "on"
	}
	fmt.Fprintf(w, "Debug: %s\n", debug)
	logPath := s.LogPath
	if logPath == "" {
		logPath = "none"
	}
	fmt.Fprintf(w, "Log file: %s\n", logPath)
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
}
