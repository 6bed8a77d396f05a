package natsclient

import (
	"errors"
	"strconv"

	"github.com/bartossh/echoledger/ledger"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrMalformedMessage = errors.New("malformed committed message")

const (
	fieldReplica        = "replica"
	fieldOperation      = "operation"
	fieldPublicKey      = "public_key"
	fieldBalance        = "balance"
	fieldTimestamp      = "timestamp"
	fieldTransaction    = "transaction"
	fieldReconciliation = "reconciliation"
	fieldReplayed       = "replayed"
)

// Message is the committed ledger operation as published by a replica.
type Message struct {
	Replica string
	ledger.Committed
}

// encode marshals the message to protobuf Struct. Integers are carried as decimal strings to keep int64 precision.
func encode(m Message) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		fieldReplica:        m.Replica,
		fieldOperation:      string(m.Operation),
		fieldPublicKey:      m.PublicKey,
		fieldBalance:        strconv.FormatInt(m.Balance, 10),
		fieldTimestamp:      strconv.FormatInt(m.Timestamp, 10),
		fieldTransaction:    m.Transaction,
		fieldReconciliation: m.Reconciliation,
		fieldReplayed:       strconv.Itoa(m.Replayed),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func decode(raw []byte) (Message, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return Message{}, errors.Join(ErrMalformedMessage, err)
	}
	f := st.GetFields()
	str := func(k string) string {
		return f[k].GetStringValue()
	}

	balance, err := strconv.ParseInt(str(fieldBalance), 10, 64)
	if err != nil {
		return Message{}, errors.Join(ErrMalformedMessage, err)
	}
	timestamp, err := strconv.ParseInt(str(fieldTimestamp), 10, 64)
	if err != nil {
		return Message{}, errors.Join(ErrMalformedMessage, err)
	}
	replayed, err := strconv.Atoi(str(fieldReplayed))
	if err != nil {
		return Message{}, errors.Join(ErrMalformedMessage, err)
	}

	return Message{
		Replica: str(fieldReplica),
		Committed: ledger.Committed{
			Operation:      ledger.Operation(str(fieldOperation)),
			PublicKey:      str(fieldPublicKey),
			Balance:        balance,
			Timestamp:      timestamp,
			Transaction:    str(fieldTransaction),
			Reconciliation: str(fieldReconciliation),
			Replayed:       replayed,
		},
	}, nil
}
