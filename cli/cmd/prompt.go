package cmd

import (
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/viper"

	"github.com/tunnelchat/tunnelchat/tunnel"
)

func roomCompleter(d prompt.Document) []prompt.Suggest {
	var suggests []prompt.Suggest
	for _, room := range viper.GetStringSlice(recentRoomsKey) {
		suggests = append(suggests, prompt.Suggest{Text: room, Description: "recent room"})
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

func noCompleter(prompt.Document) []prompt.Suggest { return nil }

// resolveRoom takes the room from args or asks interactively with
// recent-room completion.
func resolveRoom(args []string) (string, error) {
	var room string
	if len(args) > 0 {
		room = args[0]
	} else {
		room = strings.TrimSpace(prompt.Input("room ❯ ", roomCompleter))
	}
	if err := tunnel.ValidateRoomID(room); err != nil {
		return "", err
	}
	return room, nil
}

// resolveName prefers the -n flag / config file, then asks. A newly
// entered name becomes the persisted last-used name.
func resolveName() (string, error) {
	name := viper.GetString(displayNameKey)
	if name == "" {
		name = strings.TrimSpace(prompt.Input("display name ❯ ", noCompleter))
		if name != "" {
			viper.Set(displayNameKey, name)
			saveConfig()
		}
	}
	if err := tunnel.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
