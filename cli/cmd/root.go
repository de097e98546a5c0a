/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tunnelchat/tunnelchat/store"
)

var (
	cfgFile string
	log     = logrus.New()
)

const (
	displayNameKey = "display_name"
	relayAddrKey   = "relay_address"
	redisAddrKey   = "redis_address"
	recentRoomsKey = "recent_rooms"

	maxRecentRooms = 10
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Anonymous, ephemeral group chat from the terminal",
	Long: `tunnel joins named chat rooms over a shared real-time relay.
Rooms exist only while someone is in them: when the last participant
leaves, every message, presence entry and lock flag is erased.

Nothing is persisted locally except your last-used display name.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// one‑shot
	if len(os.Args) > 1 {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	// REPL
	fmt.Println("entering interactive mode, type 'exit' to quit")
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("❯❯❯ ")
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		args, _ := shellwords.Parse(line)
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tunnel.yaml)")
	rootCmd.PersistentFlags().StringP("name", "n", "", "Display name for this session")
	rootCmd.PersistentFlags().String("relay", "ws://localhost:8080/ws", "Relay websocket endpoint")
	rootCmd.PersistentFlags().String("redis", "", "Redis address (host:port); overrides the relay backend")

	viper.BindPFlag(displayNameKey, rootCmd.PersistentFlags().Lookup("name"))
	viper.BindPFlag(relayAddrKey, rootCmd.PersistentFlags().Lookup("relay"))
	viper.BindPFlag(redisAddrKey, rootCmd.PersistentFlags().Lookup("redis"))
	viper.SetDefault(relayAddrKey, "ws://localhost:8080/ws")

	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tunnel")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// openStore builds the configured backend: Redis when --redis is set,
// otherwise the relay websocket.
func openStore(ctx context.Context) (store.Store, error) {
	if addr := viper.GetString(redisAddrKey); addr != "" {
		return store.NewRedis(addr, log), nil
	}
	return store.DialRemote(ctx, viper.GetString(relayAddrKey), log)
}

// saveConfig persists the viper state to the config file, creating it on
// first use.
func saveConfig() {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		path = filepath.Join(home, ".tunnel.yaml")
	}
	if err := viper.WriteConfigAs(path); err != nil {
		log.WithError(err).Warn("could not persist config")
	}
}

// rememberRoom keeps a short most-recent-first room list for prompt
// completion.
func rememberRoom(room string) {
	recent := viper.GetStringSlice(recentRoomsKey)
	out := []string{room}
	for _, r := range recent {
		if r != room && len(out) < maxRecentRooms {
			out = append(out, r)
		}
	}
	viper.Set(recentRoomsKey, out)
	saveConfig()
}
