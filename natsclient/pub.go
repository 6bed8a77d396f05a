package natsclient

import (
	"fmt"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/logger"
)

// Publisher provides functionality to push messages to the pub/sub queue.
type Publisher struct {
	*socket
	replica string
	log     logger.Logger
}

// PublisherConnect connects publisher to the pub/sub queue using provided config.
func PublisherConnect(cfg Config, replica string, log logger.Logger) (*Publisher, error) {
	var p Publisher
	var err error
	p.replica = replica
	p.log = log
	p.socket, err = connect(cfg, log)
	return &p, err
}

// PublishCommitted publishes the committed ledger operation.
func (p *Publisher) PublishCommitted(ev ledger.Committed) error {
	msg, err := encode(Message{Replica: p.replica, Committed: ev})
	if err != nil {
		return err
	}
	return p.conn.Publish(PubSubLedgerCommitted, msg)
}

// Notify publishes the committed ledger operation, failures are logged as the operation is already committed.
func (p *Publisher) Notify(ev ledger.Committed) {
	if err := p.PublishCommitted(ev); err != nil {
		p.log.Error(fmt.Sprintf("publishing %s of [ %s ] failed: %s", ev.Operation, ev.PublicKey, err))
	}
}
