package server

import (
	"errors"
	"time"

	"github.com/bartossh/echoledger/bookkeeping"
	"github.com/bartossh/echoledger/status"
	"github.com/gofiber/fiber/v2"
)

// AliveResponse is a response for alive and version check.
type AliveResponse struct {
	Alive      bool   `json:"alive"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
	ReplicaID  string `json:"replica_id"`
}

func (s *server) alive(c *fiber.Ctx) error {
	return c.JSON(
		AliveResponse{
			Alive:      true,
			APIVersion: ApiVersion,
			APIHeader:  Header,
			ReplicaID:  s.gate.ReplicaID(),
		})
}

func malformed(err error) error {
	return status.Client(status.ErrorMissingParameter, errors.Join(ErrMalformedBody, err))
}

func (s *server) register(c *fiber.Ctx) error {
	start := time.Now()
	var req bookkeeping.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respond(c, start, nonce(c, ""), Response{}, malformed(err))
	}
	n := nonce(c, req.InitialTransaction.Nonce)

	if err := s.verifyEnvelope(c, req.InitialTransaction.Source, req.InitialTransaction); err != nil {
		return s.respond(c, start, n, Response{}, err)
	}

	l, err := s.bk.Register(c.UserContext(), req)
	return s.respond(c, start, n, Response{Balance: l.Balance, Timestamp: l.Timestamp}, err)
}

func (s *server) sendAmount(c *fiber.Ctx) error {
	start := time.Now()
	var req bookkeeping.SendRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respond(c, start, nonce(c, ""), Response{}, malformed(err))
	}
	n := nonce(c, req.Transaction.Nonce)

	echo, err := s.admit(c, req.Transaction.Source, req)
	if err != nil || echo != "" {
		return s.respond(c, start, n, Response{Echo: echo}, err)
	}

	l, err := s.bk.SendAmount(c.UserContext(), req)
	return s.respond(c, start, n, Response{Balance: l.Balance, Timestamp: l.Timestamp}, err)
}

func (s *server) receiveAmount(c *fiber.Ctx) error {
	start := time.Now()
	var req bookkeeping.ReceiveRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respond(c, start, nonce(c, ""), Response{}, malformed(err))
	}
	n := nonce(c, req.Transaction.Nonce)

	echo, err := s.admit(c, req.Transaction.Source, req)
	if err != nil || echo != "" {
		return s.respond(c, start, n, Response{Echo: echo}, err)
	}

	l, err := s.bk.ReceiveAmount(c.UserContext(), req)
	return s.respond(c, start, n, Response{Balance: l.Balance, Timestamp: l.Timestamp}, err)
}

func (s *server) ledgerWriteback(c *fiber.Ctx) error {
	start := time.Now()
	var req bookkeeping.WriteBackRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respond(c, start, nonce(c, ""), Response{}, malformed(err))
	}
	n := nonce(c, req.Nonce)

	owner := req.Ledger.Owner()
	if owner == "" {
		return s.respond(c, start, n, Response{}, status.Client(status.ErrorInvalidLedger, bookkeeping.ErrEmptySnapshot))
	}

	echo, err := s.admit(c, owner, req)
	if err != nil || echo != "" {
		return s.respond(c, start, n, Response{Echo: echo}, err)
	}

	l, err := s.bk.LedgerWriteback(c.UserContext(), req)
	return s.respond(c, start, n, Response{Balance: l.Balance, Timestamp: l.Timestamp}, err)
}

func (s *server) checkAccount(c *fiber.Ctx) error {
	start := time.Now()
	acc, err := s.bk.CheckAccount(c.UserContext(), c.Params("key"))
	return s.respond(c, start, nonce(c, ""), Response{
		Balance:             acc.Balance,
		PendingTransactions: acc.PendingTransactions,
	}, err)
}

func (s *server) audit(c *fiber.Ctx) error {
	start := time.Now()
	snap, err := s.bk.Audit(c.UserContext(), c.Params("key"))
	res := Response{Timestamp: snap.Timestamp}
	if err == nil {
		res.Ledger = &snap
	}
	return s.respond(c, start, nonce(c, ""), res, err)
}
