package natsclient

import (
	"context"
	"fmt"

	"github.com/bartossh/echoledger/logger"
	"github.com/nats-io/nats.go"
)

// Subscriber provides functionality to pull messages from the pub/sub queue.
type Subscriber struct {
	*socket
	log logger.Logger
}

// SubscriberConnect connects subscriber to the pub/sub queue using provided config.
func SubscriberConnect(cfg Config, log logger.Logger) (*Subscriber, error) {
	var s Subscriber
	var err error
	s.log = log
	s.socket, err = connect(cfg, log)
	return &s, err
}

// SubscribeCommitted calls fn for every committed ledger operation published by the replicas.
// It blocks until the context is canceled. Malformed messages are logged and skipped.
func (s *Subscriber) SubscribeCommitted(ctx context.Context, fn func(Message)) error {
	sub, err := s.conn.Subscribe(PubSubLedgerCommitted, func(m *nats.Msg) {
		msg, err := decode(m.Data)
		if err != nil {
			s.log.Warn(fmt.Sprintf("skipping committed message: %s", err))
			return
		}
		fn(msg)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()

	return sub.Unsubscribe()
}
