package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bartossh/echoledger/bookkeeping"
	"github.com/bartossh/echoledger/echocache"
	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/logging"
	"github.com/bartossh/echoledger/memstore"
	"github.com/bartossh/echoledger/quorum"
	"github.com/bartossh/echoledger/reconciliation"
	"github.com/bartossh/echoledger/serializer"
	"github.com/bartossh/echoledger/signable"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
	"github.com/bartossh/echoledger/wallet"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replica struct {
	w   *wallet.Wallet
	app *fiber.App
}

func newReplicas(t *testing.T, n int) []replica {
	wallets := make([]wallet.Wallet, n)
	cfg := quorum.Config{}
	for i := range wallets {
		w, err := wallet.New()
		require.NoError(t, err)
		wallets[i] = w
		cfg.Replicas = append(cfg.Replicas, quorum.Replica{ID: fmt.Sprintf("replica-%d", i), PublicKey: w.Address()})
	}
	v := wallet.NewVerifier()
	roster, err := quorum.NewRoster(cfg, v)
	require.NoError(t, err)

	log := logging.New("test", func(error) {}, io.Discard)
	replicas := make([]replica, 0, n)
	for i := range wallets {
		lock := &sync.Mutex{}
		bk := bookkeeping.New(memstore.New(), reconciliation.New(lock, v, log), lock, v, log)
		gate, err := quorum.NewBroadcaster(cfg.Replicas[i].ID, &wallets[i], v, roster,
			echocache.New(context.Background(), echocache.Config{}), log)
		require.NoError(t, err)
		s := &server{bk: bk, gate: gate, signer: &wallets[i], verifier: v, log: log}
		c := Config{Port: 8000 + i}
		require.NoError(t, validateConfig(&c))
		replicas = append(replicas, replica{w: &wallets[i], app: s.router(c)})
	}
	return replicas
}

func call(t *testing.T, r replica, method, path string, body any, headers map[string]string) Response {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	sig, err := serializer.DecodeString(resp.Header.Get(SignatureHeader))
	require.NoError(t, err)
	assert.NoError(t, wallet.NewVerifier().Verify(raw, sig, r.w.Address()), "response signature")

	var res Response
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, resp.StatusCode, res.StatusCode)
	assert.Equal(t, res.Nonce, resp.Header.Get(NonceHeader))
	return res
}

func signed(w *wallet.Wallet, op signable.Signable) map[string]string {
	return map[string]string{SignatureHeader: signable.Sign(w, op)}
}

func register(t *testing.T, replicas []replica, w *wallet.Wallet, amount int64) {
	initial := transaction.Initial{Source: w.Address(), Amount: amount, Nonce: "register-" + w.Address()[:6]}
	initial.Sign(w)
	for _, r := range replicas {
		res := call(t, r, http.MethodPost, RegisterURL, bookkeeping.RegisterRequest{InitialTransaction: initial}, signed(w, initial))
		require.Equal(t, status.Success, res.Status)
		assert.Equal(t, amount, res.Balance)
	}
}

func echoes(t *testing.T, replicas []replica, path string, body any, headers map[string]string) []quorum.Echo {
	out := make([]quorum.Echo, 0, len(replicas))
	for _, r := range replicas {
		res := call(t, r, http.MethodPost, path, body, headers)
		require.Equal(t, status.Success, res.Status)
		e, err := quorum.ParseEcho(res.Echo)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func withEchoes(headers map[string]string, e []quorum.Echo) map[string]string {
	out := map[string]string{EchoSignaturesHeader: quorum.FormatEchoes(e)}
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func newSend(alice, bob *wallet.Wallet, amount int64, nonce string, history []transaction.Transaction, ts int64) bookkeeping.SendRequest {
	prev := ""
	if len(history) > 0 {
		prev = history[len(history)-1].Signature
	}
	trx := transaction.Transaction{
		Source: alice.Address(), Target: bob.Address(), IsSend: true, Amount: amount, Nonce: nonce, PreviousSignature: prev,
	}
	trx.Sign(alice)
	return bookkeeping.SendRequest{Transaction: trx, Ledger: ledger.Snapshot{Transactions: history, Timestamp: ts}}
}

func newWallet(t *testing.T) *wallet.Wallet {
	w, err := wallet.New()
	require.NoError(t, err)
	return &w
}

func TestAlive(t *testing.T) {
	replicas := newReplicas(t, 1)
	resp, err := replicas[0].app.Test(httptest.NewRequest(http.MethodGet, AliveURL, nil), -1)
	require.NoError(t, err)
	var alive AliveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alive))
	assert.True(t, alive.Alive)
	assert.Equal(t, ApiVersion, alive.APIVersion)
	assert.Equal(t, "replica-0", alive.ReplicaID)
}

func TestQuorumCertifiedSendAndReceive(t *testing.T) {
	replicas := newReplicas(t, 4)
	alice, bob := newWallet(t), newWallet(t)
	register(t, replicas, alice, 100)
	register(t, replicas, bob, 0)

	send := newSend(alice, bob, 30, "send-1", nil, 1)
	headers := signed(alice, send)
	e := echoes(t, replicas, SendAmountURL, send, headers)
	for _, r := range replicas {
		res := call(t, r, http.MethodPost, SendAmountURL, send, withEchoes(headers, e))
		assert.Equal(t, status.Success, res.Status)
		assert.Equal(t, "send-1", res.Nonce)
		assert.Equal(t, int64(70), res.Balance)
		assert.Equal(t, int64(1), res.Timestamp)
	}

	acc := call(t, replicas[2], http.MethodGet, CheckAccountURL+"/"+bob.Address(), nil, map[string]string{NonceHeader: "check"})
	assert.Equal(t, status.Success, acc.Status)
	assert.Equal(t, "check", acc.Nonce)
	require.Len(t, acc.PendingTransactions, 1)
	assert.Equal(t, send.Transaction, acc.PendingTransactions[0])

	trx := transaction.Transaction{
		Source: bob.Address(), Target: alice.Address(), IsSend: false, Amount: 30, Nonce: "recv-1",
	}
	trx.Sign(bob)
	recv := bookkeeping.ReceiveRequest{
		Transaction: trx, Ledger: ledger.Snapshot{Timestamp: 1}, PendingTransactionHash: send.Transaction.Signature,
	}
	headers = signed(bob, recv)
	e = echoes(t, replicas, ReceiveAmountURL, recv, headers)
	for _, r := range replicas {
		res := call(t, r, http.MethodPost, ReceiveAmountURL, recv, withEchoes(headers, e[:3]))
		assert.Equal(t, status.Success, res.Status)
		assert.Equal(t, int64(30), res.Balance)
	}

	audit := call(t, replicas[0], http.MethodGet, AuditURL+"/"+alice.Address(), nil, nil)
	require.NotNil(t, audit.Ledger)
	assert.Equal(t, []transaction.Transaction{send.Transaction}, audit.Ledger.Transactions)
	assert.Equal(t, int64(1), audit.Ledger.Timestamp)
}

func TestInsufficientQuorumRejected(t *testing.T) {
	replicas := newReplicas(t, 4)
	alice, bob := newWallet(t), newWallet(t)
	register(t, replicas, alice, 100)
	register(t, replicas, bob, 0)

	send := newSend(alice, bob, 30, "send-1", nil, 1)
	headers := signed(alice, send)
	e := echoes(t, replicas, SendAmountURL, send, headers)

	res := call(t, replicas[0], http.MethodPost, SendAmountURL, send, withEchoes(headers, e[:2]))
	assert.Equal(t, status.ErrorNoSignatureMatch, res.Status)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	acc := call(t, replicas[0], http.MethodGet, CheckAccountURL+"/"+alice.Address(), nil, nil)
	assert.Equal(t, int64(100), acc.Balance)

	// the pending echo was consumed by the failed commit
	res = call(t, replicas[0], http.MethodPost, SendAmountURL, send, withEchoes(headers, e))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestEchoPendingPerAuthor(t *testing.T) {
	replicas := newReplicas(t, 4)
	alice, bob := newWallet(t), newWallet(t)
	register(t, replicas, alice, 100)
	register(t, replicas, bob, 0)

	send := newSend(alice, bob, 30, "send-1", nil, 1)
	headers := signed(alice, send)
	first := call(t, replicas[0], http.MethodPost, SendAmountURL, send, headers)
	assert.Equal(t, status.Success, first.Status)
	assert.NotEmpty(t, first.Echo)

	second := call(t, replicas[0], http.MethodPost, SendAmountURL, send, headers)
	assert.Equal(t, status.ErrorInvalidValue, second.Status)
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)
	assert.Empty(t, second.Echo)
}

func TestEnvelopeSignature(t *testing.T) {
	replicas := newReplicas(t, 4)
	alice, bob, mallory := newWallet(t), newWallet(t), newWallet(t)
	register(t, replicas, alice, 100)
	register(t, replicas, bob, 0)

	send := newSend(alice, bob, 30, "send-1", nil, 1)

	res := call(t, replicas[0], http.MethodPost, SendAmountURL, send, nil)
	assert.Equal(t, status.ErrorNoSignatureMatch, res.Status)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = call(t, replicas[0], http.MethodPost, SendAmountURL, send, signed(mallory, send))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// a rejected third party does not occupy the author's pending slot
	res = call(t, replicas[0], http.MethodPost, SendAmountURL, send, signed(alice, send))
	assert.Equal(t, status.Success, res.Status)
	assert.NotEmpty(t, res.Echo)
}

func TestRegisterFailures(t *testing.T) {
	replicas := newReplicas(t, 1)
	alice := newWallet(t)

	initial := transaction.Initial{Source: "not-a-key", Amount: 10, Nonce: "n"}
	res := call(t, replicas[0], http.MethodPost, RegisterURL, bookkeeping.RegisterRequest{InitialTransaction: initial}, map[string]string{SignatureHeader: "sig"})
	assert.Equal(t, status.ErrorInvalidKey, res.Status)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	initial = transaction.Initial{Source: alice.Address(), Amount: -5, Nonce: "n"}
	initial.Sign(alice)
	res = call(t, replicas[0], http.MethodPost, RegisterURL, bookkeeping.RegisterRequest{InitialTransaction: initial}, signed(alice, initial))
	assert.Equal(t, status.ErrorInvalidAmount, res.Status)
	assert.Equal(t, "n", res.Nonce)

	register(t, replicas, alice, 10)
	initial = transaction.Initial{Source: alice.Address(), Amount: 10, Nonce: "again"}
	initial.Sign(alice)
	res = call(t, replicas[0], http.MethodPost, RegisterURL, bookkeeping.RegisterRequest{InitialTransaction: initial}, signed(alice, initial))
	assert.Equal(t, status.ErrorInvalidLedger, res.Status)
}

func TestWritebackEmptyLedger(t *testing.T) {
	replicas := newReplicas(t, 1)
	res := call(t, replicas[0], http.MethodPost, LedgerWritebackURL, bookkeeping.WriteBackRequest{Nonce: "wb"}, nil)
	assert.Equal(t, status.ErrorInvalidLedger, res.Status)
	assert.Equal(t, "wb", res.Nonce)
}

func TestReadMissingLedger(t *testing.T) {
	replicas := newReplicas(t, 1)
	res := call(t, replicas[0], http.MethodGet, AuditURL+"/"+newWallet(t).Address(), nil, nil)
	assert.Equal(t, status.ErrorMissingLedger, res.Status)
	assert.Nil(t, res.Ledger)

	res = call(t, replicas[0], http.MethodGet, CheckAccountURL+"/garbage", nil, nil)
	assert.Equal(t, status.ErrorInvalidKey, res.Status)
}

func TestValidateConfig(t *testing.T) {
	c := Config{Port: 0}
	assert.ErrorIs(t, validateConfig(&c), ErrWrongPortSpecified)
	c = Config{Port: 8080, BodyLimit: 10}
	assert.ErrorIs(t, validateConfig(&c), ErrWrongBodyLimit)
	c = Config{Port: 8080}
	assert.NoError(t, validateConfig(&c))
	assert.Equal(t, 4*1024*1024, c.BodyLimit)
}
