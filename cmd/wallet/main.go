package main

import (
	"errors"
	"os"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/echoledger/aeswrapper"
	"github.com/bartossh/echoledger/configuration"
	"github.com/bartossh/echoledger/fileoperations"
	"github.com/bartossh/echoledger/logo"
	"github.com/bartossh/echoledger/wallet"
)

const (
	actionFromPemToGob = iota
	actionFromGobToPem
	actionNewWallet
	actionAddress
)

const usage = `Wallet CLI tool allows to create a new Wallet or act on the local Wallet by using keys from different formats and transforming them between formats.
The encrypted GOBINARY file is sealed with AES key derived from the configured password.
Use --replica to act on the wallet of the replica instead of the client wallet.`

func main() {
	logo.Display("wallet")

	var (
		pem, config string
		replica     bool
	)

	configurator := func() (fileoperations.Config, error) {
		if config == "" {
			return fileoperations.Config{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(config)
		if err != nil {
			return fileoperations.Config{}, err
		}
		if replica {
			return cfg.Replica.FileOperator, nil
		}
		return cfg.Wallet, nil
	}

	command := func(action int) cli.ActionFunc {
		return func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			address, err := run(action, pem, cfg)
			if err != nil {
				return err
			}
			pterm.Info.Println("----------")
			pterm.Info.Println(" SUCCESS !")
			pterm.Info.Println("----------")
			pterm.Info.Printfln("Address: %s", address)
			return nil
		}
	}

	app := &cli.App{
		Name:  "wallet",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pem",
				Aliases:     []string{"p"},
				Usage:       "Load wallet from PEM `FILE` path. Your path shall look like that 'path/to/wallet' and the files are 'wallet' and 'wallet.pub'.",
				Destination: &pem,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &config,
			},
			&cli.BoolFlag{
				Name:        "replica",
				Aliases:     []string{"r"},
				Usage:       "Act on the replica wallet.",
				Destination: &replica,
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "new",
				Aliases: []string{"n"},
				Usage:   "Creates new wallet and saves it to encrypted GOBINARY file and PEM format if PEM path is given.",
				Action:  command(actionNewWallet),
			},
			{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Reads GOBINARY and prints the wallet address, the public key to put in the quorum roster.",
				Action:  command(actionAddress),
			},
			{
				Name:    "topem",
				Aliases: []string{"tp"},
				Usage:   "Reads GOBINARY and saves it to PEM file format.",
				Action:  command(actionFromGobToPem),
			},
			{
				Name:    "togob",
				Aliases: []string{"tg"},
				Usage:   "Reads PEM file format and saves it to GOBINARY encrypted file format.",
				Action:  command(actionFromPemToGob),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(action int, pem string, cfg fileoperations.Config) (string, error) {
	h := fileoperations.New(cfg, aeswrapper.New())
	switch action {
	case actionNewWallet:
		w, err := wallet.New()
		if err != nil {
			return "", err
		}
		if err := h.SaveWallet(w); err != nil {
			return "", err
		}
		if pem != "" {
			if err := w.SaveToPem(pem); err != nil {
				return "", err
			}
		}
		return w.Address(), nil
	case actionAddress:
		w, err := h.ReadWallet()
		if err != nil {
			return "", err
		}
		return w.Address(), nil
	case actionFromGobToPem:
		if pem == "" {
			return "", errors.New("please specify PEM path with -p <path to file>")
		}
		w, err := h.ReadWallet()
		if err != nil {
			return "", err
		}
		if err := w.SaveToPem(pem); err != nil {
			return "", err
		}
		return w.Address(), nil
	case actionFromPemToGob:
		if pem == "" {
			return "", errors.New("please specify PEM path with -p <path to file>")
		}
		w, err := wallet.ReadFromPem(pem)
		if err != nil {
			return "", err
		}
		if err := h.SaveWallet(w); err != nil {
			return "", err
		}
		return w.Address(), nil
	default:
		return "", errors.New("unimplemented action")
	}
}
