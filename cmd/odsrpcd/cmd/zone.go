/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

var zoneBaseURL string
var zoneKid string

var ZoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Inspect or command zones known to the controller",
}

var zoneStatusCmd = &cobra.Command{
	Use:   "status <zone>",
	Short: "Show the persisted flags for a zone",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printZoneStatus(args[0])
	},
}

var zoneCommandCmd = &cobra.Command{
	Use:   "command <command> <zone> [zone...]",
	Short: "Send a lifecycle command for one or more zones",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sendZoneCommand(args[0], args[1:])
	},
}

func init() {
	ZoneCmd.PersistentFlags().StringVar(&zoneBaseURL, "url", "http://localhost:8080", "odsrpcd base URL")
	ZoneCmd.PersistentFlags().StringVar(&zoneKid, "kid", "", "verified key identity to present")
	ZoneCmd.AddCommand(zoneStatusCmd)
	ZoneCmd.AddCommand(zoneCommandCmd)
}

func printZoneStatus(zone string) {
	resp, err := http.Get(zoneBaseURL + "/zones/" + zone)
	if err != nil {
		fmt.Println("request failed:", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var flags map[string]string
	if err := json.Unmarshal(body, &flags); err != nil {
		fmt.Println("malformed response:", err)
		return
	}

	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []string{"FLAG|VALUE"}
	for _, name := range names {
		value := flags[name]
		if value == "" {
			value = "-"
		}
		out = append(out, fmt.Sprintf("%s|%s", name, value))
	}
	fmt.Printf("%s\n", columnize.SimpleFormat(out))
}

func sendZoneCommand(command string, zones []string) {
	req := struct {
		Command string   `json:"command"`
		Zones   []string `json:"zones"`
	}{Command: command, Zones: zones}

	body, err := json.Marshal(req)
	if err != nil {
		fmt.Println("encode failed:", err)
		return
	}

	httpReq, err := http.NewRequest(http.MethodPost, zoneBaseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		fmt.Println("request build failed:", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Verified-Kid", zoneKid)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		fmt.Println("request failed:", err)
		return
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	var out map[string][]string
	if err := json.Unmarshal(respBody, &out); err != nil || out == nil {
		fmt.Println("refused (unknown command or ACL denial)")
		return
	}

	rows := []string{"RESULT|ZONES"}
	for _, result := range []string{"ok", "error", "badstate", "invalid"} {
		if zones, ok := out[result]; ok {
			rows = append(rows, fmt.Sprintf("%s|%v", result, zones))
		}
	}
	fmt.Printf("%s\n", columnize.SimpleFormat(rows))
}
