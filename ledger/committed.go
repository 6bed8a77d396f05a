package ledger

// Operation names the state changing operation of a ledger.
type Operation string

const (
	OperationRegister  Operation = "register"
	OperationSend      Operation = "sendAmount"
	OperationReceive   Operation = "receiveAmount"
	OperationWriteback Operation = "ledgerWriteback"
)

// Committed describes the ledger state after a committed operation.
type Committed struct {
	Operation      Operation `json:"operation"`
	PublicKey      string    `json:"public_key"`
	Balance        int64     `json:"balance"`
	Timestamp      int64     `json:"timestamp"`
	Transaction    string    `json:"transaction,omitempty"`    // hash of the persisted transaction, if any
	Reconciliation string    `json:"reconciliation,omitempty"` // what the catch-up had to do, if it ran
	Replayed       int       `json:"replayed,omitempty"`
}
