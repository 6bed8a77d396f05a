package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/signable"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
	"github.com/gofiber/fiber/v2"
)

var (
	ErrMissingSignature = errors.New("request signature header is missing")
	ErrMalformedBody    = errors.New("request body is malformed")
)

// Response is the envelope of every replica response.
// The SIGNATURE header of the response carries the replica signature of the raw JSON body.
type Response struct {
	Status              status.Status             `json:"status"`
	StatusCode          int                       `json:"statusCode"`
	Nonce               string                    `json:"nonce"`
	Echo                string                    `json:"echo,omitempty"`
	Balance             int64                     `json:"balance"`
	Timestamp           int64                     `json:"timestamp"`
	PendingTransactions []transaction.Transaction `json:"pendingTransactions,omitempty"`
	Ledger              *ledger.Snapshot          `json:"ledger,omitempty"`
}

// nonce returns the NONCE header falling back to the nonce carried in the body.
func nonce(c *fiber.Ctx, fallback string) string {
	if n := c.Get(NonceHeader); n != "" {
		return n
	}
	return fallback
}

// respond signs and writes the response. A nil err is a success.
func (s *server) respond(c *fiber.Ctx, start time.Time, n string, res Response, err error) error {
	res.Nonce = n
	res.Status = status.Success
	res.StatusCode = fiber.StatusOK
	if err != nil {
		se := status.From(err)
		res = Response{Nonce: n, Status: se.Status, StatusCode: se.Code()}
		switch se.Class {
		case status.ClassServer:
			s.log.Error(fmt.Sprintf("%s failed: %s", c.Path(), se))
		default:
			s.log.Warn(fmt.Sprintf("%s rejected: %s", c.Path(), se))
		}
	}

	body, errx := json.Marshal(res)
	if errx != nil {
		s.log.Error(fmt.Sprintf("%s response marshal failed: %s", c.Path(), errx))
		return fiber.ErrInternalServerError
	}

	if s.rec != nil {
		s.rec.RecordRequest(c.Route().Path, res.Status, time.Since(start))
	}

	c.Set(SignatureHeader, signable.SignText(s.signer, string(body)))
	c.Set(NonceHeader, n)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(res.StatusCode).Send(body)
}

// verifyEnvelope checks the request was signed by the author.
func (s *server) verifyEnvelope(c *fiber.Ctx, author string, op signable.Signable) error {
	if author == "" {
		return status.Client(status.ErrorMissingParameter, errors.New("request author is missing"))
	}
	if _, err := s.verifier.AddressToPubKey(author); err != nil {
		return status.Client(status.ErrorInvalidKey, err)
	}
	sig := c.Get(SignatureHeader)
	if sig == "" {
		return status.Protocol(status.ErrorNoSignatureMatch, ErrMissingSignature)
	}
	if err := signable.VerifyText(s.verifier, sig, op.Signable(), author); err != nil {
		return status.Protocol(status.ErrorNoSignatureMatch, err)
	}
	return nil
}

// admit runs the quorum gate for the operation of the author.
// It returns the echo when the request is the first phase, the operation shall then not be executed.
func (s *server) admit(c *fiber.Ctx, author string, op signable.Signable) (string, error) {
	if err := s.verifyEnvelope(c, author, op); err != nil {
		return "", err
	}
	header := c.Get(EchoSignaturesHeader)
	if header == "" {
		e, err := s.gate.Echo(author, op)
		if err != nil {
			return "", err
		}
		return e.String(), nil
	}
	return "", s.gate.Commit(author, op, header)
}
