package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/echoledger/aeswrapper"
	"github.com/bartossh/echoledger/client"
	"github.com/bartossh/echoledger/configuration"
	"github.com/bartossh/echoledger/fileoperations"
	"github.com/bartossh/echoledger/logging"
	"github.com/bartossh/echoledger/logo"
	"github.com/bartossh/echoledger/natsclient"
	"github.com/bartossh/echoledger/stdoutwriter"
	"github.com/bartossh/echoledger/wallet"
)

const usage = `Client talks to every replica of the ledger. It collects the signed echoes of the replicas before
resubmitting the operation and reads the account state agreed by the replica majority.`

func main() {
	logo.Display("client")

	var (
		file, to, hash string
		amount         int64
	)

	connect := func() (*client.Rest, error) {
		if file == "" {
			return nil, errors.New("please specify configuration file path with -c <path to file>")
		}
		cfg, err := configuration.Read(file)
		if err != nil {
			return nil, err
		}
		fo := fileoperations.New(cfg.Wallet, aeswrapper.New())
		c, err := client.NewRest(cfg.Client, wallet.NewVerifier(), fo, wallet.New)
		if err != nil {
			return nil, err
		}
		if err := c.ValidateApiVersion(); err != nil {
			return nil, err
		}
		if err := c.ReadWalletFromFile(); err != nil {
			return nil, err
		}
		return c, nil
	}

	app := &cli.App{
		Name:  "client",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "Opens the ledger of the wallet with the initial amount.",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "amount", Aliases: []string{"a"}, Destination: &amount},
				},
				Action: func(_ *cli.Context) error {
					c, err := connect()
					if err != nil {
						return err
					}
					if err := c.Register(amount); err != nil {
						return err
					}
					pterm.Success.Printfln("Ledger registered with balance %d.", amount)
					return nil
				},
			},
			{
				Name:  "send",
				Usage: "Sends amount to the receiver public key.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Aliases: []string{"t"}, Required: true, Destination: &to},
					&cli.Int64Flag{Name: "amount", Aliases: []string{"a"}, Required: true, Destination: &amount},
				},
				Action: func(_ *cli.Context) error {
					c, err := connect()
					if err != nil {
						return err
					}
					h, err := c.Send(to, amount)
					if err != nil {
						return err
					}
					pterm.Success.Printfln("Sent %d, transaction %s is pending.", amount, h)
					return nil
				},
			},
			{
				Name:  "receive",
				Usage: "Receives the pending transaction with the given hash.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "hash", Required: true, Destination: &hash},
				},
				Action: func(_ *cli.Context) error {
					c, err := connect()
					if err != nil {
						return err
					}
					if err := c.Receive(hash); err != nil {
						return err
					}
					pterm.Success.Printfln("Received transaction %s.", hash)
					return nil
				},
			},
			{
				Name:  "check",
				Usage: "Prints the balance and the pending incoming transactions.",
				Action: func(_ *cli.Context) error {
					c, err := connect()
					if err != nil {
						return err
					}
					acc, err := c.CheckAccount()
					if err != nil {
						return err
					}
					data := pterm.TableData{{"Pending from", "Amount", "Hash"}}
					for _, trx := range acc.PendingTransactions {
						data = append(data, []string{trx.Source, pterm.Sprint(trx.Amount), trx.Signature})
					}
					pterm.Info.Printfln("Balance: %d", acc.Balance)
					return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
				},
			},
			{
				Name:  "audit",
				Usage: "Prints the full ledger history.",
				Action: func(_ *cli.Context) error {
					c, err := connect()
					if err != nil {
						return err
					}
					snap, err := c.Audit()
					if err != nil {
						return err
					}
					data := pterm.TableData{{"Direction", "Counterparty", "Amount", "Hash"}}
					for _, trx := range snap.Transactions {
						direction := "received"
						if trx.IsSend {
							direction = "sent"
						}
						data = append(data, []string{direction, trx.Target, pterm.Sprint(trx.Amount), trx.Signature})
					}
					pterm.Info.Printfln("Timestamp: %d", snap.Timestamp)
					return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
				},
			},
			{
				Name:  "writeback",
				Usage: "Pushes the majority agreed ledger to every replica.",
				Action: func(_ *cli.Context) error {
					c, err := connect()
					if err != nil {
						return err
					}
					if err := c.WriteBack(); err != nil {
						return err
					}
					pterm.Success.Println("Ledger written back.")
					return nil
				},
			},
			{
				Name:  "watch",
				Usage: "Prints the ledger operations committed by the replicas as published on nats.",
				Action: func(_ *cli.Context) error {
					if file == "" {
						return errors.New("please specify configuration file path with -c <path to file>")
					}
					cfg, err := configuration.Read(file)
					if err != nil {
						return err
					}
					return watch(cfg.Nats)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func watch(cfg natsclient.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	log := logging.New("client", func(err error) { fmt.Println("logger error: ", err) }, stdoutwriter.Logger{})
	sub, err := natsclient.SubscriberConnect(cfg, log)
	if err != nil {
		return err
	}
	defer sub.Disconnect()

	return sub.SubscribeCommitted(ctx, func(m natsclient.Message) {
		pterm.Info.Printfln("[ %s ] %s of [ %s ] balance %d timestamp %d %s",
			m.Replica, m.Operation, m.PublicKey, m.Balance, m.Timestamp, m.Reconciliation)
	})
}
