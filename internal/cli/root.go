package cli

import (
	"os"

	"github.com/dshield/dshield/internal/config"
	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dshield",
		Short:         "dshield: inspect the in-process egress allowlist",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("dshield {{.Version}}\n")

	cmd.PersistentFlags().String("proxy-host", getenvDefault(config.EnvProxyHost, ""), "Proxy address literal (default from "+config.EnvProxyHost+")")
	cmd.PersistentFlags().String("proxy-port", getenvDefault(config.EnvProxyPort, ""), "Proxy port (default from "+config.EnvProxyPort+")")

	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newCheckCmd())

	return cmd
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// snapshotFor builds the snapshot the preload library would build, with the
// proxy flags standing in for their environment variables.
func snapshotFor(cmd *cobra.Command) config.Snapshot {
	host, _ := cmd.Root().PersistentFlags().GetString("proxy-host")
	port, _ := cmd.Root().PersistentFlags().GetString("proxy-port")
	return config.Load(func(k string) string {
		switch k {
		case config.EnvProxyHost:
			return host
		case config.EnvProxyPort:
			return port
		default:
			return os.Getenv(k)
		}
	})
}
