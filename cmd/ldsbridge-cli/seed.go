package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/keys"
)

const seedPasswordEnv = "LDSBRIDGE_SEED_PASSWORD"

var seedCommand = cli.Command{
	Name:  "seed",
	Usage: "manage the swap key seed",
	Subcommands: []cli.Command{
		{
			Name:  "create",
			Usage: "create the encrypted seed file swap keys derive from",
			Description: "Writes a new seed file encrypted with the password " +
				"in " + seedPasswordEnv + ". With --restore the mnemonic " +
				"is read from stdin instead of generated. Restart " +
				"ldsbridged afterwards.",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "data_dir",
					Usage: "daemon data directory",
					Value: "~/.ldsbridge",
				},
				cli.BoolFlag{
					Name:  "restore",
					Usage: "read an existing mnemonic from stdin",
				},
			},
			Action: createSeed,
		},
	},
}

func createSeed(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("data_dir"))
	if err != nil {
		return err
	}
	path := cfg.ResolvePath(cfg.Wallet.SeedFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("seed file %s already exists", path)
	}

	password := os.Getenv(seedPasswordEnv)
	if password == "" {
		return fmt.Errorf("%s is not set", seedPasswordEnv)
	}

	var mnemonic string
	if ctx.Bool("restore") {
		fmt.Fprintln(os.Stderr, "Enter mnemonic:")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("unable to read mnemonic: %w", err)
		}
		mnemonic = strings.Join(strings.Fields(line), " ")
	} else {
		if mnemonic, err = keys.GenerateMnemonic(); err != nil {
			return err
		}
	}

	seed, err := keys.EncryptMnemonic(mnemonic, password)
	if err != nil {
		if errors.Is(err, keys.ErrInvalidMnemonic) {
			return fmt.Errorf("not a valid BIP39 mnemonic")
		}
		return err
	}
	if err := seed.Save(path); err != nil {
		return err
	}

	fmt.Printf("Seed file written to %s\n", filepath.Clean(path))
	if !ctx.Bool("restore") {
		fmt.Println("Write down your mnemonic, it restores refund keys:")
		fmt.Println()
		fmt.Println(mnemonic)
		fmt.Println()
	}
	return nil
}
