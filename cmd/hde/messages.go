package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <sender> <text>...",
	Short: "Submit a message for transmission",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := client.Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(msg))
		return nil
	},
}

var messagesSender string

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List the node's message log",
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := client.MessagesFrom(cmd.Context(), messagesSender)
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(msgs))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <message-id>",
	Short: "Show the status of a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.Status(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	},
}

var crcCmd = &cobra.Command{
	Use:   "crc",
	Short: "Show the checksum of the node's log",
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := client.Checksum(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get checksum: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(sum))
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Drop stale partial batches on the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		evicted, err := client.Refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to refresh: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d stale batches dropped\n", evicted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(crcCmd)
	rootCmd.AddCommand(refreshCmd)

	messagesCmd.Flags().StringVar(&messagesSender, "sender", "", "only list messages authored by this sender")
}
