/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunnelchat/tunnelchat/tunnel"
)

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail <room>",
	Short: "Streams a room's messages to stdout.",
	Long: `Joins a room and prints messages as they arrive, without the
full-screen interface. The session still counts as a participant: others
see you in the room, and your departure can trigger the room's erasure.
Ctrl+C leaves.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		room := args[0]
		name, err := resolveName()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to store: %v\n", err)
			return
		}
		defer st.Close()

		client, err := tunnel.Join(ctx, tunnel.Config{
			Room:  room,
			Name:  name,
			Store: st,
			Handlers: tunnel.Handlers{
				OnMessage: func(msg tunnel.Message) {
					if msg.ReplyTo != nil {
						fmt.Printf("  ↳ %s: %s\n", msg.ReplyTo.Author, msg.ReplyTo.Text)
					}
					fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Author, msg.Text)
				},
			},
			Logger: log,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error joining %s: %v\n", room, err)
			return
		}
		rememberRoom(room)
		fmt.Fprintf(os.Stderr, "Following %s as %s. Ctrl+C to leave.\n", room, name)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer leaveCancel()
		if err := client.Leave(leaveCtx); err != nil {
			log.WithError(err).Warn("leave failed")
		}
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
}
