/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package main

import "github.com/vanrein/ods-rpc/cmd/odsrpcd/cmd"

func main() {
	cmd.Execute()
}
