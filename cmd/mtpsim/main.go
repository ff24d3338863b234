// Command mtpsim drives usb/mtp.Engine over an in-memory volume and an
// in-process fake transport, for exercising a full transaction sequence
// without USB Armory hardware.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mtpsim",
	Short: "MTP engine simulator",
	Long: `mtpsim drives the usb/mtp transaction engine over an in-memory
volume and an in-process fake transport, printing each command's response.
It exists to let the protocol be exercised and read without USB Armory
hardware attached.`,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
