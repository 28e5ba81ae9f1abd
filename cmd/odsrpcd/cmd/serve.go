/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vanrein/ods-rpc/rpc"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DNSSEC lifecycle controller daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func runServe() {
	if appConfig == nil {
		log.Fatalf("serve: no usable config loaded from %s", cfgFile)
	}

	if appConfig.Common.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   appConfig.Common.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}

	store, err := rpc.NewDirFlagStore(appConfig.Common.FlagDir)
	if err != nil {
		log.Fatalf("serve: %v", err)
	}

	probe := rpc.NewDNSProbe(appConfig.DNSProbe.SignerAddress, appConfig.DNSProbe.Timeout)
	if appConfig.DNSProbe.InitialBackoff > 0 {
		probe.InitialBackoff = appConfig.DNSProbe.InitialBackoff
	}

	var backend rpc.Backend
	if len(appConfig.Backend.ManageArgv) > 0 {
		backend = &rpc.ShellBackend{
			ManageArgv:   appConfig.Backend.ManageArgv,
			UnmanageArgv: appConfig.Backend.UnmanageArgv,
			Timeout:      appConfig.Backend.Timeout,
		}
	} else {
		backend = rpc.NullBackend{}
	}

	h := rpc.NewHandlers(store, probe, backend, rpc.PermissiveLocalRules{})
	h.Config.AssertSignedImmediateOverride = appConfig.DNSProbe.AssertSignedImmediateOverride

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
	}()

	var transport rpc.ClusterTransport = rpc.LoopbackTransport{}
	store.Broadcast = func(zone string, flag rpc.FlagName, value any) {
		msg := rpc.FormatClusterMessage(time.Now(), zone, flag, value)
		if err := transport.Publish(ctx, msg); err != nil {
			log.Printf("odsrpcd: cluster publish failed for %s.%s: %v", zone, flag, err)
		}
	}

	if appConfig.Cluster.Enabled {
		consumer := &rpc.ClusterConsumer{Store: store, Transport: transport}
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("odsrpcd: cluster consumer stopped: %v", err)
			}
		}()
	}

	disp := rpc.NewDispatcher(h, appConfig.ACL.ToACL())
	srv := &rpc.Server{Dispatcher: disp, Debug: appConfig.Common.Debug}

	log.Printf("odsrpcd: listening on %s", appConfig.Common.ListenAddr)
	if err := srv.Serve(ctx, appConfig.Common.ListenAddr); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
