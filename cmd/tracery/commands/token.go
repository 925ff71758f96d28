// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/tracery-project/tracery/cmd/tracery/cli"
	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/workertoken"
)

// tokenCommand returns the "token" command group.
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:    "token",
		Summary: "Mint and inspect worker tokens",
		Subcommands: []*cli.Command{
			tokenMintCommand(),
			tokenShowCommand(),
		},
	}
}

func tokenMintCommand() *cli.Command {
	var configPath string
	var keyDir string
	var workerName string
	var queues []string
	var ttl time.Duration
	var outPath string

	return &cli.Command{
		Name:    "mint",
		Summary: "Mint a signed token for an edge worker",
		Description: `Mint an Ed25519-signed bearer token for one edge worker.

The token names the worker and the queue patterns it may fetch jobs
from (path.Match globs; "*" grants every queue). It is printed as
base64url, or written to --out with 0600 permissions for direct use
as the worker's token_file.

Without --ttl the token does not expire; revocation means rotating
the signing keypair.`,
		Usage: "tracery token mint --worker <name> --queue <queue> [--queue ...]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mint", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.StringVar(&keyDir, "keys", "", "key directory (defaults to paths.keys from config)")
			flagSet.StringVar(&workerName, "worker", "", "worker name the token is bound to (required)")
			flagSet.StringSliceVar(&queues, "queue", nil, "queue pattern the worker may fetch from (repeatable, required)")
			flagSet.DurationVar(&ttl, "ttl", 0, "token lifetime (0 means no expiry)")
			flagSet.StringVar(&outPath, "out", "", "write the token to this file instead of stdout")
			return flagSet
		},
		Run: func(args []string) error {
			if workerName == "" {
				return fmt.Errorf("--worker is required")
			}
			if !schema.ValidWorkerName(workerName) {
				return fmt.Errorf("invalid worker name %q", workerName)
			}
			if len(queues) == 0 {
				return fmt.Errorf("--queue is required (use --queue '*' for all queues)")
			}

			if keyDir == "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				keyDir = cfg.Paths.Keys
			}
			privateKey, err := workertoken.LoadPrivateKey(keyDir)
			if err != nil {
				return err
			}

			now := time.Now()
			token := &workertoken.Token{
				Subject:  workerName,
				Audience: workertoken.AudienceEdge,
				Queues:   queues,
				ID:       uuid.NewString(),
				IssuedAt: now.Unix(),
			}
			if ttl > 0 {
				token.ExpiresAt = now.Add(ttl).Unix()
			}

			raw, err := workertoken.Mint(privateKey, token)
			if err != nil {
				return err
			}
			encoded := workertoken.Encode(raw)

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(encoded+"\n"), 0600); err != nil {
					return err
				}
				fmt.Printf("token %s for worker %s written to %s\n", token.ID, workerName, outPath)
				return nil
			}
			fmt.Println(encoded)
			return nil
		},
	}
}

func tokenShowCommand() *cli.Command {
	var configPath string
	var keyDir string

	return &cli.Command{
		Name:    "show",
		Summary: "Verify a token and print its claims",
		Description: `Verify a base64url token against the deployment's public key and
print its claims. The token is read from the file argument, or from
stdin when the argument is "-".`,
		Usage: "tracery token show <token-file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to config file (defaults to $TRACERY_CONFIG)")
			flagSet.StringVar(&keyDir, "keys", "", "key directory (defaults to paths.keys from config)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: tracery token show <token-file>")
			}

			var encoded []byte
			var err error
			if args[0] == "-" {
				encoded, err = io.ReadAll(os.Stdin)
			} else {
				encoded, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			if keyDir == "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				keyDir = cfg.Paths.Keys
			}
			publicKey, err := workertoken.LoadPublicKey(keyDir)
			if err != nil {
				return err
			}

			raw, err := workertoken.Decode(strings.TrimSpace(string(encoded)))
			if err != nil {
				return err
			}
			token, err := workertoken.Verify(publicKey, raw)
			if err != nil {
				return err
			}
			return cli.WriteJSON(token)
		},
	}
}
