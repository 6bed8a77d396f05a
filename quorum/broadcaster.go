// Package quorum implements the signed-echo broadcast that certifies a client operation by a
// Byzantine quorum of replicas before any replica applies it.
package quorum

import (
	"errors"
	"fmt"

	"github.com/bartossh/echoledger/logger"
	"github.com/bartossh/echoledger/signable"
	"github.com/bartossh/echoledger/status"
)

var (
	ErrOperationPending   = errors.New("operation already pending for the author")
	ErrNoPendingOperation = errors.New("no operation pending for the author")
	ErrOperationMismatch  = errors.New("operation does not match the pending one")
	ErrNoQuorum           = errors.New("echo signatures do not form a byzantine quorum")
	ErrDuplicateSigner    = errors.New("echo signer is repeated")
	ErrUnknownReplica     = errors.New("echo signer is not a known replica")
	ErrEchoSignature      = errors.New("echo signature does not match the operation")
)

// PendingStore keeps at most one pending operation per author.
type PendingStore interface {
	Reserve(author, text string) bool
	Take(author string) (string, bool)
}

// Broadcaster is the two phase echo / commit gate guarding state changing operations.
type Broadcaster struct {
	id       string
	signer   signable.Signer
	verifier signable.Verifier
	roster   Roster
	pending  PendingStore
	log      logger.Logger
}

// NewBroadcaster creates Broadcaster for the replica with the given id.
func NewBroadcaster(
	id string, s signable.Signer, v signable.Verifier, r Roster, p PendingStore, log logger.Logger,
) (*Broadcaster, error) {
	if _, ok := r.Lookup(id); !ok {
		return nil, errors.Join(ErrReplicaNotInRoster, fmt.Errorf("id %q", id))
	}
	return &Broadcaster{id: id, signer: s, verifier: v, roster: r, pending: p, log: log}, nil
}

// ReplicaID returns id of the replica the Broadcaster signs for.
func (b *Broadcaster) ReplicaID() string {
	return b.id
}

// Echo is the first phase. It signs the operation, records it as pending for the author
// and returns the echo the client collects from the quorum.
func (b *Broadcaster) Echo(author string, op signable.Signable) (Echo, error) {
	text := op.Signable()
	if !b.pending.Reserve(author, text) {
		b.log.Warn(fmt.Sprintf("echo refused, operation already pending for author [ %s ]", author))
		return Echo{}, status.Client(status.ErrorInvalidValue, ErrOperationPending)
	}
	return Echo{ReplicaID: b.id, Signature: signable.SignText(b.signer, text)}, nil
}

// Commit is the second phase. It consumes the pending entry of the author and verifies the echo
// header certifies the same operation by a Byzantine quorum of distinct known replicas.
func (b *Broadcaster) Commit(author string, op signable.Signable, header string) error {
	if err := b.commit(author, op.Signable(), header); err != nil {
		b.log.Warn(fmt.Sprintf("commit refused for author [ %s ]: %s", author, err))
		return status.Protocol(status.ErrorNoSignatureMatch, err)
	}
	return nil
}

func (b *Broadcaster) commit(author, text, header string) error {
	pending, ok := b.pending.Take(author)
	if !ok {
		return ErrNoPendingOperation
	}
	if pending != text {
		return ErrOperationMismatch
	}

	echoes, err := ParseEchoes(header)
	if err != nil {
		return err
	}

	n := b.roster.Size()
	if !HasQuorum(len(echoes), n) {
		return errors.Join(ErrNoQuorum, fmt.Errorf("got %d echoes, need more than %d of %d", len(echoes), Threshold(n), n))
	}

	seen := make(map[string]struct{}, len(echoes))
	for _, e := range echoes {
		if _, ok := seen[e.ReplicaID]; ok {
			return errors.Join(ErrDuplicateSigner, fmt.Errorf("replica %q", e.ReplicaID))
		}
		seen[e.ReplicaID] = struct{}{}

		rep, ok := b.roster.Lookup(e.ReplicaID)
		if !ok {
			return errors.Join(ErrUnknownReplica, fmt.Errorf("replica %q", e.ReplicaID))
		}
		if err := signable.VerifyText(b.verifier, e.Signature, text, rep.PublicKey); err != nil {
			return errors.Join(ErrEchoSignature, fmt.Errorf("replica %q", e.ReplicaID), err)
		}
	}
	return nil
}
