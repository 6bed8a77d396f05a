package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/echoledger/aeswrapper"
	"github.com/bartossh/echoledger/bookkeeping"
	"github.com/bartossh/echoledger/configuration"
	"github.com/bartossh/echoledger/echocache"
	"github.com/bartossh/echoledger/fileoperations"
	"github.com/bartossh/echoledger/logging"
	"github.com/bartossh/echoledger/logo"
	"github.com/bartossh/echoledger/memstore"
	"github.com/bartossh/echoledger/natsclient"
	"github.com/bartossh/echoledger/quorum"
	"github.com/bartossh/echoledger/reconciliation"
	"github.com/bartossh/echoledger/repository"
	"github.com/bartossh/echoledger/server"
	"github.com/bartossh/echoledger/stdoutwriter"
	"github.com/bartossh/echoledger/telemetry"
	"github.com/bartossh/echoledger/wallet"
)

const usage = `Replica runs one server of the Byzantine fault tolerant ledger. State changing requests are executed
only when certified by the signed echoes of the replica quorum listed in the configuration.`

const dbConnEnv = "ECHOLEDGER_DB_CONN"

var ErrWalletNotInRoster = errors.New("replica wallet does not match the roster public key")

type storage interface {
	bookkeeping.Repository
	RunMigration(ctx context.Context) error
	Ping(ctx context.Context) error
}

func main() {
	logo.Display("replica")

	var file string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}

		if err := godotenv.Load(); err == nil {
			if conn := os.Getenv(dbConnEnv); conn != "" {
				cfg.Database.ConnStr = conn
			}
		}

		return cfg, cfg.ValidateReplica()
	}

	app := &cli.App{
		Name:  "replica",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
		},
		Action: func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(cfg configuration.Configuration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	callbackOnErr := func(err error) {
		fmt.Println("logger error: ", err)
	}

	log := logging.New(cfg.Replica.ID, callbackOnErr, stdoutwriter.Logger{})

	verify := wallet.NewVerifier()
	fo := fileoperations.New(cfg.Replica.FileOperator, aeswrapper.New())
	w, err := fo.ReadWallet()
	if err != nil {
		return err
	}

	roster, err := quorum.NewRoster(cfg.Quorum, verify)
	if err != nil {
		return err
	}
	if r, ok := roster.Lookup(cfg.Replica.ID); ok && r.PublicKey != w.Address() {
		return errors.Join(ErrWalletNotInRoster, fmt.Errorf("replica %s", cfg.Replica.ID))
	}

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Ping(ctx); err != nil {
		return err
	}
	if err := store.RunMigration(ctx); err != nil {
		return err
	}

	metrics := telemetry.New()
	notifiers := []bookkeeping.Notifier{metrics}
	if cfg.Nats.Address != "" {
		pub, err := natsclient.PublisherConnect(cfg.Nats, cfg.Replica.ID, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Disconnect(); err != nil {
				log.Error(err.Error())
			}
		}()
		notifiers = append(notifiers, pub)
	}

	lock := &sync.Mutex{}
	bk := bookkeeping.New(store, reconciliation.New(lock, verify, log), lock, verify, log, notifiers...)

	gate, err := quorum.NewBroadcaster(cfg.Replica.ID, &w, verify, roster, echocache.New(ctx, cfg.PendingEcho), log)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Port != 0 {
		go func() {
			if err := metrics.Run(ctx, cfg.Telemetry, cancel); err != nil {
				log.Error(err.Error())
			}
		}()
	}

	log.Info(fmt.Sprintf("replica [ %s ] of [ %d ] replicas starts on port [ %d ]", cfg.Replica.ID, roster.Size(), cfg.Server.Port))

	return server.Run(ctx, cfg.Server, bk, gate, &w, verify, metrics, log)
}

func openStorage(ctx context.Context, cfg configuration.Configuration) (storage, func(), error) {
	switch cfg.Storage.Driver {
	case configuration.DriverMemory:
		return memstore.New(), func() {}, nil
	default:
		db, err := repository.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			ctxx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = db.Disconnect(ctxx)
		}, nil
	}
}
