/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/tunnelchat/tunnelchat/cli/cmd"

func main() {
	cmd.Execute()
}
