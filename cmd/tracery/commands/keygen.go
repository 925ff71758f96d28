// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
	"github.com/tracery-project/tracery/lib/workertoken"
)

// keygenCommand returns the "keygen" command.
func keygenCommand() *cli.Command {
	var configPath string
	var keyDir string
	var force bool

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate the token signing keypair",
		Description: `Generate the Ed25519 keypair used to sign and verify worker tokens.

The private key stays on the operator machine (or wherever tokens are
minted); the server only needs the public key, either as the keypair
directory or inline as server.public_key in its config. The public
key hex is printed for the inline form.

Refuses to overwrite an existing keypair unless --force is given:
regenerating invalidates every previously minted worker token.`,
		Usage: "tracery keygen [--keys <dir>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.StringVar(&keyDir, "keys", "", "key directory (defaults to paths.keys from config)")
			flagSet.BoolVar(&force, "force", false, "overwrite an existing keypair")
			return flagSet
		},
		Run: func(args []string) error {
			if keyDir == "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				keyDir = cfg.Paths.Keys
			}
			if err := os.MkdirAll(keyDir, 0700); err != nil {
				return err
			}

			if !force {
				if _, err := workertoken.LoadPublicKey(keyDir); err == nil {
					return fmt.Errorf("keypair already exists in %s; "+
						"pass --force to overwrite (this invalidates all minted tokens)", keyDir)
				}
			}

			public, private, err := workertoken.GenerateKeypair()
			if err != nil {
				return err
			}
			if err := workertoken.SaveKeypair(keyDir, public, private); err != nil {
				return err
			}

			fmt.Printf("keypair written to %s\n", filepath.Clean(keyDir))
			fmt.Printf("public key: %s\n", workertoken.PublicKeyHex(public))
			return nil
		},
	}
}
