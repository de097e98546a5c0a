/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunnelchat/tunnelchat/tunnel"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <room> <text>",
	Short: "Sends a single message to a room and leaves.",
	Long: `Joins the room just long enough to deliver one message, then leaves.
If that made the room empty again, the room is erased like any other
departure would.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		room, text := args[0], args[1]

		name, err := resolveName()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to store: %v\n", err)
			return
		}
		defer st.Close()

		client, err := tunnel.Join(ctx, tunnel.Config{Room: room, Name: name, Store: st, Logger: log})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error joining %s: %v\n", room, err)
			return
		}

		if _, err := client.Send(ctx, text, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to send message: %v\n", err)
		} else {
			fmt.Printf("Message sent to %s\n", room)
		}

		if err := client.Leave(ctx); err != nil {
			log.WithError(err).Warn("leave failed")
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
