/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package cmd

import (
	"fmt"
	"sort"

	"github.com/gookit/goutil/dump"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

var ACLCmd = &cobra.Command{
	Use:   "acl",
	Short: "Inspect the configured command access control list",
	Run: func(cmd *cobra.Command, args []string) {
		printACL()
	},
}

func printACL() {
	if appConfig == nil {
		fmt.Println("no config loaded")
		return
	}

	if appConfig.Common.Debug {
		dump.P(appConfig.ACL)
	}

	commands := make([]string, 0, len(appConfig.ACL))
	for cmd := range appConfig.ACL {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)

	out := []string{"COMMAND|KEY IDENTITIES"}
	for _, cmd := range commands {
		out = append(out, fmt.Sprintf("%s|%v", cmd, appConfig.ACL[cmd]))
	}
	fmt.Printf("%s\n", columnize.SimpleFormat(out))
}
