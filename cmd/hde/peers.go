package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	handshakeTimeout time.Duration
	requestCRC       bool
)

var handshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Look for a peer in range",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Handshake(cmd.Context(), handshakeTimeout)
		if err != nil {
			return fmt.Errorf("handshake failed: %w", err)
		}
		if !resp.Found {
			fmt.Fprintln(cmd.OutOrStdout(), "No peer found.")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(resp.Peer))
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <peer>",
	Short: "Reconcile the node's log with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.Sync(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(res))
		return nil
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List known peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if requestCRC {
			resp, err := client.RequestChecksum(cmd.Context(), handshakeTimeout)
			if err != nil {
				return fmt.Errorf("checksum request failed: %w", err)
			}
			if !resp.Found {
				fmt.Fprintln(cmd.OutOrStdout(), "No peer answered.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.Format(resp))
			return nil
		}

		resp, err := client.Peers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list peers: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(resp.Peers))
		return nil
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Show the node's radio state",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Link(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get link state: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(resp))
		return nil
	},
}

func init() {
	handshakeCmd.Flags().DurationVar(&handshakeTimeout, "timeout", 0, "how long to wait for a peer (default from the node config)")
	peersCmd.Flags().DurationVar(&handshakeTimeout, "timeout", 0, "how long to wait for a checksum reply with --crc")
	peersCmd.Flags().BoolVar(&requestCRC, "crc", false, "ask the first peer that answers for its log checksum")

	rootCmd.AddCommand(handshakeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(linkCmd)
}
