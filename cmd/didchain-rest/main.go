/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/trustbloc/didchain/cmd/didchain-rest/startcmd"
	"github.com/trustbloc/didchain/cmd/didchain-rest/verifycmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use: "didchain-rest",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd(&startcmd.HTTPServer{}))
	rootCmd.AddCommand(verifycmd.GetVerifyCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to run didchain: %s", err.Error())
	}
}
