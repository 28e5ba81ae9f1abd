/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanrein/ods-rpc/rpc"
)

var cfgFile string
var appConfig *rpc.Config

var RootCmd = &cobra.Command{
	Use:   "odsrpcd",
	Short: "Remotely-commanded DNSSEC lifecycle controller",
	Long:  "odsrpcd drives DNS zones through the sign/chain/unchain/unsign lifecycle on behalf of a remote, ACL-authorized caller.",
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/odsrpcd/odsrpcd.yaml", "config file")
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(ZoneCmd)
	RootCmd.AddCommand(ACLCmd)
}

func initConfig() {
	cfg, err := rpc.LoadConfig(cfgFile)
	if err != nil {
		// Subcommands that only inspect flags (help, completion) must
		// still work without a config file present.
		return
	}
	appConfig = cfg
}
