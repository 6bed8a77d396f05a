// Package client is the replica set client. It collects the signed echoes from the replicas,
// resubmits quorum certified operations and reads the ledger state agreed by the replica majority.
package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bartossh/echoledger/bookkeeping"
	"github.com/bartossh/echoledger/httpclient"
	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/quorum"
	"github.com/bartossh/echoledger/server"
	"github.com/bartossh/echoledger/signable"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
	"github.com/bartossh/echoledger/wallet"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrApiVersionMismatch            = fmt.Errorf("api version mismatch")
	ErrApiHeaderMismatch             = fmt.Errorf("api header mismatch")
	ErrReplicaIDMismatch             = fmt.Errorf("replica id mismatch")
	ErrServerReturnsInconsistentData = fmt.Errorf("server returns inconsistent data")
	ErrRejectedByServer              = fmt.Errorf("rejected by server")
	ErrWalletNotReady                = fmt.Errorf("wallet not ready, read wallet first")
	ErrNoQuorum                      = fmt.Errorf("not enough replicas agreed")
	ErrNoMajority                    = fmt.Errorf("replicas do not agree on the ledger state")
	ErrPendingNotFound               = fmt.Errorf("pending transaction not found")
	ErrEmptyLedger                   = fmt.Errorf("ledger has no transactions")
)

// WalletReadSaver allows to read and save the wallet.
type WalletReadSaver interface {
	ReadWallet() (wallet.Wallet, error)
	SaveWallet(w wallet.Wallet) error
}

// NewSignValidatorCreator is a function that creates a new wallet.
type NewSignValidatorCreator func() (wallet.Wallet, error)

// Config contains configuration of the client.
type Config struct {
	Replicas       []quorum.Replica `yaml:"replicas"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
}

// Account is the majority agreed account state.
type Account struct {
	Balance             int64
	PendingTransactions []transaction.Transaction
}

// Rest is a rest client of the replica set.
type Rest struct {
	replicas      []quorum.Replica
	timeout       time.Duration
	verifier      signable.Verifier
	wrs           WalletReadSaver
	w             wallet.Wallet
	walletCreator NewSignValidatorCreator
	ready         bool
}

// reply is the verified response of a single replica.
type reply struct {
	replica quorum.Replica
	res     server.Response
	err     error
}

// NewRest creates a new rest client.
func NewRest(
	cfg Config, v signable.Verifier, wrs WalletReadSaver, walletCreator NewSignValidatorCreator,
) (*Rest, error) {
	if len(cfg.Replicas) == 0 {
		return nil, quorum.ErrEmptyRoster
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Rest{
		replicas: cfg.Replicas, timeout: timeout, verifier: v, wrs: wrs, walletCreator: walletCreator,
	}, nil
}

// ValidateApiVersion makes a call to every replica and validates client and server API versions,
// header correctness and the replica id.
func (r *Rest) ValidateApiVersion() error {
	for _, rp := range r.replicas {
		res, err := httpclient.MakeGet(r.timeout, rp.URL+server.AliveURL, nil)
		if err != nil {
			return errors.Join(fmt.Errorf("replica %s", rp.ID), err)
		}
		var alive server.AliveResponse
		if err := res.Decode(&alive); err != nil {
			return err
		}
		if alive.APIVersion != server.ApiVersion {
			return errors.Join(ErrApiVersionMismatch, fmt.Errorf("expected %s but got %s", server.ApiVersion, alive.APIVersion))
		}
		if alive.APIHeader != server.Header {
			return errors.Join(ErrApiHeaderMismatch, fmt.Errorf("expected %s but got %s", server.Header, alive.APIHeader))
		}
		if alive.ReplicaID != rp.ID {
			return errors.Join(ErrReplicaIDMismatch, fmt.Errorf("expected %s but got %s", rp.ID, alive.ReplicaID))
		}
	}
	return nil
}

// NewWallet creates a new wallet.
func (r *Rest) NewWallet() error {
	w, err := r.walletCreator()
	if err != nil {
		return err
	}
	r.w = w
	r.ready = true
	return nil
}

// Address reads the wallet address.
// Address is a string representation of wallet public key.
func (r *Rest) Address() (string, error) {
	if !r.ready {
		return "", ErrWalletNotReady
	}
	return r.w.Address(), nil
}

// Register opens the ledger of the wallet with the initial amount on every replica.
func (r *Rest) Register(amount int64) error {
	if !r.ready {
		return ErrWalletNotReady
	}
	initial := transaction.Initial{Source: r.w.Address(), Amount: amount, Nonce: newNonce()}
	initial.Sign(&r.w)

	headers := map[string]string{
		server.SignatureHeader: signable.Sign(&r.w, initial),
		server.NonceHeader:     initial.Nonce,
	}
	replies := r.broadcast(server.RegisterURL, headers, bookkeeping.RegisterRequest{InitialTransaction: initial})
	return r.requireQuorum(replies)
}

// CheckAccount reads the balance and the pending incoming transactions agreed by the replica majority.
func (r *Rest) CheckAccount() (Account, error) {
	if !r.ready {
		return Account{}, ErrWalletNotReady
	}
	res, err := r.majorityRead(server.CheckAccountURL, func(res server.Response) string {
		hashes := make([]string, 0, len(res.PendingTransactions))
		for _, trx := range res.PendingTransactions {
			hashes = append(hashes, trx.Signature)
		}
		sort.Strings(hashes)
		return fmt.Sprintf("%d|%s", res.Balance, strings.Join(hashes, ","))
	})
	if err != nil {
		return Account{}, err
	}
	return Account{Balance: res.Balance, PendingTransactions: res.PendingTransactions}, nil
}

// Audit reads the ledger agreed by the replica majority.
func (r *Rest) Audit() (ledger.Snapshot, error) {
	if !r.ready {
		return ledger.Snapshot{}, ErrWalletNotReady
	}
	res, err := r.majorityRead(server.AuditURL, func(res server.Response) string {
		if res.Ledger == nil {
			return ""
		}
		return res.Ledger.Signable()
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if res.Ledger == nil {
		return ledger.Snapshot{}, errors.Join(ErrServerReturnsInconsistentData, errors.New("audit without ledger"))
	}
	return *res.Ledger, nil
}

// Send transfers amount to the ledger of receiver. The transaction stays pending until the receiver accepts it.
// It returns the hash of the sending transaction.
func (r *Rest) Send(receiver string, amount int64) (string, error) {
	if !r.ready {
		return "", ErrWalletNotReady
	}
	snap, err := r.Audit()
	if err != nil {
		return "", err
	}
	trx := r.transaction(snap, receiver, true, amount)
	req := bookkeeping.SendRequest{Transaction: trx, Ledger: next(snap)}
	if err := r.certified(server.SendAmountURL, trx.Nonce, req); err != nil {
		return "", err
	}
	return trx.Signature, nil
}

// Receive accepts the pending transaction identified by its hash.
func (r *Rest) Receive(pendingHash string) error {
	if !r.ready {
		return ErrWalletNotReady
	}
	acc, err := r.CheckAccount()
	if err != nil {
		return err
	}
	var (
		pending transaction.Transaction
		found   bool
	)
	for _, trx := range acc.PendingTransactions {
		if trx.Signature == pendingHash {
			pending, found = trx, true
			break
		}
	}
	if !found {
		return errors.Join(ErrPendingNotFound, fmt.Errorf("hash %s", pendingHash))
	}

	snap, err := r.Audit()
	if err != nil {
		return err
	}
	trx := r.transaction(snap, pending.Source, false, pending.Amount)
	req := bookkeeping.ReceiveRequest{Transaction: trx, Ledger: next(snap), PendingTransactionHash: pendingHash}
	return r.certified(server.ReceiveAmountURL, trx.Nonce, req)
}

// WriteBack pushes the majority agreed ledger to every replica so lagging replicas catch up.
func (r *Rest) WriteBack() error {
	if !r.ready {
		return ErrWalletNotReady
	}
	snap, err := r.Audit()
	if err != nil {
		return err
	}
	if len(snap.Transactions) == 0 {
		return ErrEmptyLedger
	}
	req := bookkeeping.WriteBackRequest{Nonce: newNonce(), Ledger: next(snap)}
	return r.certified(server.LedgerWritebackURL, req.Nonce, req)
}

// SaveWalletToFile saves the wallet to the file.
func (r *Rest) SaveWalletToFile() error {
	if !r.ready {
		return ErrWalletNotReady
	}
	return r.wrs.SaveWallet(r.w)
}

// ReadWalletFromFile reads the wallet from the file.
func (r *Rest) ReadWalletFromFile() error {
	w, err := r.wrs.ReadWallet()
	if err != nil {
		return err
	}
	r.w = w
	r.ready = true
	return nil
}

// FlushWalletFromMemory flushes the wallet from the memory.
// Do it after you have saved the wallet to the file.
func (r *Rest) FlushWalletFromMemory() {
	r.w = wallet.Wallet{}
	r.ready = false
}

func (r *Rest) transaction(snap ledger.Snapshot, target string, isSend bool, amount int64) transaction.Transaction {
	trx := transaction.Transaction{
		Source: r.w.Address(), Target: target, IsSend: isSend, Amount: amount, Nonce: newNonce(),
	}
	if last, ok := ledger.Verifiable(snap.Transactions).Last(); ok {
		trx.PreviousSignature = last.Signature
	}
	trx.Sign(&r.w)
	return trx
}

// certified runs both phases of the signed echo broadcast for the operation.
func (r *Rest) certified(path, nonce string, op signable.Signable) error {
	headers := map[string]string{
		server.SignatureHeader: signable.Sign(&r.w, op),
		server.NonceHeader:     nonce,
	}

	echoes := make([]quorum.Echo, 0, len(r.replicas))
	for _, rp := range r.broadcast(path, headers, op) {
		if rp.err != nil {
			continue
		}
		e, err := quorum.ParseEcho(rp.res.Echo)
		if err != nil || e.ReplicaID != rp.replica.ID {
			continue
		}
		echoes = append(echoes, e)
	}
	if !quorum.HasQuorum(len(echoes), len(r.replicas)) {
		return errors.Join(ErrNoQuorum, fmt.Errorf("%d echoes of %d replicas", len(echoes), len(r.replicas)))
	}

	headers[server.EchoSignaturesHeader] = quorum.FormatEchoes(echoes)
	return r.requireQuorum(r.broadcast(path, headers, op))
}

func (r *Rest) requireQuorum(replies []reply) error {
	var (
		accepted int
		errs     []error
	)
	for _, rp := range replies {
		if rp.err != nil {
			errs = append(errs, rp.err)
			continue
		}
		accepted++
	}
	if !quorum.HasQuorum(accepted, len(r.replicas)) {
		return errors.Join(append([]error{ErrNoQuorum}, errs...)...)
	}
	return nil
}

// majorityRead asks every replica and returns the response at least f+1 replicas agree on by key.
func (r *Rest) majorityRead(url string, key func(server.Response) string) (server.Response, error) {
	path := url + "/" + r.w.Address()
	replies := r.fanOut(func(rp quorum.Replica) (httpclient.Reply, error) {
		return httpclient.MakeGet(r.timeout, rp.URL+path, map[string]string{server.NonceHeader: newNonce()})
	})

	votes := make(map[string]int)
	var (
		best  server.Response
		count int
		errs  []error
	)
	for _, rp := range replies {
		if rp.err != nil {
			errs = append(errs, rp.err)
			continue
		}
		k := key(rp.res)
		votes[k]++
		if votes[k] > count {
			best, count = rp.res, votes[k]
		}
	}
	if count < quorum.MaxFaults(len(r.replicas))+1 {
		return server.Response{}, errors.Join(append([]error{ErrNoMajority}, errs...)...)
	}
	return best, nil
}

func (r *Rest) broadcast(path string, headers map[string]string, out any) []reply {
	return r.fanOut(func(rp quorum.Replica) (httpclient.Reply, error) {
		return httpclient.MakePost(r.timeout, rp.URL+path, headers, out)
	})
}

// fanOut calls every replica concurrently and verifies the signed replies.
func (r *Rest) fanOut(call func(quorum.Replica) (httpclient.Reply, error)) []reply {
	replies := make([]reply, len(r.replicas))
	var wg sync.WaitGroup
	for i, rp := range r.replicas {
		wg.Add(1)
		go func(i int, rp quorum.Replica) {
			defer wg.Done()
			res, err := call(rp)
			if err != nil {
				replies[i] = reply{replica: rp, err: errors.Join(fmt.Errorf("replica %s", rp.ID), err)}
				return
			}
			replies[i] = r.verify(rp, res)
		}(i, rp)
	}
	wg.Wait()
	return replies
}

func (r *Rest) verify(rp quorum.Replica, raw httpclient.Reply) reply {
	if err := signable.VerifyText(r.verifier, raw.Header(server.SignatureHeader), string(raw.Body), rp.PublicKey); err != nil {
		return reply{replica: rp, err: errors.Join(ErrServerReturnsInconsistentData, fmt.Errorf("replica %s", rp.ID), err)}
	}
	var res server.Response
	if err := raw.Decode(&res); err != nil {
		return reply{replica: rp, err: errors.Join(ErrServerReturnsInconsistentData, err)}
	}
	if res.Status != status.Success {
		return reply{replica: rp, res: res, err: errors.Join(ErrRejectedByServer, fmt.Errorf("replica %s: %s", rp.ID, res.Status))}
	}
	return reply{replica: rp, res: res}
}

func next(snap ledger.Snapshot) ledger.Snapshot {
	return ledger.Snapshot{Transactions: snap.Transactions, Timestamp: snap.Timestamp + 1}
}

func newNonce() string {
	return primitive.NewObjectID().Hex()
}
