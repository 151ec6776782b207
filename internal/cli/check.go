package cli

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/dshield/dshield/internal/policy"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <address:port> | <address> <port> | unix:<path>",
		Short: "Test whether a destination would be allowed",
		Long: `Classify a destination the way the preload library would for connect(2).

The address must be an IP literal: the library decides on the resolved
address a program passes to connect, never on host names. Exits 3 when
the destination is blocked.`,
		Example: `  # Allowed: loopback
  dshield check 127.0.0.1:8080

  # Blocked unless it is the configured proxy
  dshield check 93.184.216.34 443

  # What-if with a different proxy
  dshield check --proxy-host 10.0.0.5 --proxy-port 8080 10.0.0.5:8080`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseDestination(args)
			if err != nil {
				return err
			}
			d := policy.Classify(c, snapshotFor(cmd))

			word := "ALLOWED"
			if !d.Allowed() {
				word = "BLOCKED"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", word, c, c.Family)
			if !d.Allowed() {
				return newExitError(ExitBlocked, "")
			}
			return nil
		},
	}
	return cmd
}

func parseDestination(args []string) (policy.Candidate, error) {
	if len(args) == 1 && strings.HasPrefix(args[0], "unix:") {
		return policy.FromNetAddr("unix", strings.TrimPrefix(args[0], "unix:")), nil
	}

	var host, port string
	if len(args) == 2 {
		host, port = args[0], args[1]
	} else {
		var err error
		host, port, err = net.SplitHostPort(args[0])
		if err != nil {
			return policy.Candidate{}, fmt.Errorf("parse %q: %w", args[0], err)
		}
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if _, err := netip.ParseAddr(host); err != nil {
		return policy.Candidate{}, fmt.Errorf("%q is not an IP address literal", host)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return policy.Candidate{}, fmt.Errorf("invalid port %q", port)
	}
	return policy.FromNetAddr("tcp", net.JoinHostPort(host, port)), nil
}
