// Package server is the HTTP transport of the replica. Every response is signed by the replica and
// state changing operations are admitted only through the two phase quorum gate.
package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/echoledger/bookkeeping"
	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/logger"
	"github.com/bartossh/echoledger/quorum"
	"github.com/bartossh/echoledger/signable"
	"github.com/bartossh/echoledger/status"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Echoledger-Replica"
)

const (
	SignatureHeader      = "SIGNATURE"
	NonceHeader          = "NONCE"
	EchoSignaturesHeader = "ECHO_SIGNATURES"
)

const (
	AliveURL           = "/alive"           // URL to check if server is alive and version.
	RegisterURL        = "/register"        // URL to open a ledger with the initial transaction.
	SendAmountURL      = "/sendAmount"      // URL to send amount, quorum gated.
	ReceiveAmountURL   = "/receiveAmount"   // URL to receive pending amount, quorum gated.
	LedgerWritebackURL = "/ledgerWriteback" // URL to write back quorum agreed ledger, quorum gated.
	CheckAccountURL    = "/checkAccount"    // URL to read balance and pending incoming transactions.
	AuditURL           = "/audit"           // URL to read full ledger history.
)

const (
	minBodyLimit = 1024
	maxBodyLimit = 15000000
)

var (
	ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")
	ErrWrongBodyLimit     = errors.New("body limit must be between 1024 and 15000000")
)

// Bookkeeper performs the ledger operations.
type Bookkeeper interface {
	Register(ctx context.Context, req bookkeeping.RegisterRequest) (ledger.Ledger, error)
	SendAmount(ctx context.Context, req bookkeeping.SendRequest) (ledger.Ledger, error)
	ReceiveAmount(ctx context.Context, req bookkeeping.ReceiveRequest) (ledger.Ledger, error)
	LedgerWriteback(ctx context.Context, req bookkeeping.WriteBackRequest) (ledger.Ledger, error)
	CheckAccount(ctx context.Context, key string) (bookkeeping.Account, error)
	Audit(ctx context.Context, key string) (ledger.Snapshot, error)
}

// Gate is the two phase signed echo gate.
type Gate interface {
	ReplicaID() string
	Echo(author string, op signable.Signable) (quorum.Echo, error)
	Commit(author string, op signable.Signable, header string) error
}

// KeyVerifier decodes author keys and verifies the request envelope signatures.
type KeyVerifier interface {
	AddressToPubKey(address string) (ed25519.PublicKey, error)
	Verify(message, signature []byte, address string) error
}

// RequestRecorder records served requests.
type RequestRecorder interface {
	RecordRequest(path string, st status.Status, d time.Duration)
}

// Config contains configuration of the server.
type Config struct {
	Port      int `yaml:"port"`       // Port to listen on.
	BodyLimit int `yaml:"body_limit"` // Maximum size of the request body in bytes.
}

type server struct {
	bk       Bookkeeper
	gate     Gate
	signer   signable.Signer
	verifier KeyVerifier
	rec      RequestRecorder
	log      logger.Logger
}

// Run initializes routing and runs the server. To stop the server cancel the context.
// It blocks until the context is canceled.
func Run(
	ctx context.Context, c Config, bk Bookkeeper, gate Gate,
	signer signable.Signer, verifier KeyVerifier, rec RequestRecorder, log logger.Logger,
) error {
	var err error
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateConfig(&c); err != nil {
		return err
	}

	s := &server{bk: bk, gate: gate, signer: signer, verifier: verifier, rec: rec, log: log}
	router := s.router(c)

	go func() {
		if errx := router.Listen(fmt.Sprintf("0.0.0.0:%v", c.Port)); errx != nil {
			log.Error(fmt.Sprintf("server listen failed: %s", errx))
			cancel()
		}
	}()

	<-ctxx.Done()

	if errx := router.Shutdown(); errx != nil {
		err = errors.Join(err, errx)
	}

	return err
}

func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	if c.BodyLimit == 0 {
		c.BodyLimit = 4 * 1024 * 1024
	}
	if c.BodyLimit < minBodyLimit || c.BodyLimit > maxBodyLimit {
		return ErrWrongBodyLimit
	}
	return nil
}

func (s *server) router(c Config) *fiber.App {
	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  time.Second * 5,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		Concurrency:   4096,
		BodyLimit:     c.BodyLimit,
	})
	router.Use(recover.New())

	router.Get(AliveURL, s.alive)
	router.Post(RegisterURL, s.register)
	router.Post(SendAmountURL, s.sendAmount)
	router.Post(ReceiveAmountURL, s.receiveAmount)
	router.Post(LedgerWritebackURL, s.ledgerWriteback)
	router.Get(CheckAccountURL+"/:key", s.checkAccount)
	router.Get(AuditURL+"/:key", s.audit)

	return router
}
