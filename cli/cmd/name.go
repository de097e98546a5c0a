/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tunnelchat/tunnelchat/tunnel"
)

// nameCmd represents the name command
var nameCmd = &cobra.Command{
	Use:   "name [new_display_name]",
	Short: "Gets or sets the persisted display name.",
	Long: `Without arguments, prints the display name used for chat sessions.
With an argument, validates and persists it as the new default. The display
name is the only local state tunnel keeps.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			name := viper.GetString(displayNameKey)
			if name == "" {
				fmt.Println("No display name set. Use 'tunnel name <name>' to set one.")
				return
			}
			fmt.Printf("Display name: %s\n", name)
			return
		}

		newName := args[0]
		if err := tunnel.ValidateName(newName); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid display name: %v\n", err)
			return
		}
		viper.Set(displayNameKey, newName)
		saveConfig()
		fmt.Printf("Display name set to: %s\n", newName)
	},
}

func init() {
	rootCmd.AddCommand(nameCmd)
}
