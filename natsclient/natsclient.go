// Package natsclient publishes committed ledger operations to the nats pub/sub and subscribes to them.
package natsclient

import (
	"fmt"
	"net/url"
	"time"

	"github.com/bartossh/echoledger/logger"
	"github.com/nats-io/nats.go"
)

const (
	PubSubLedgerCommitted string = "ledger_committed"
)

const (
	reconnectWait = time.Second * 2
	maxReconnects = 30
)

// Config contains all arguments required to connect to the nats service.
type Config struct {
	Address string `yaml:"server_address"`
	Name    string `yaml:"client_name"`
	Token   string `yaml:"token"`
}

type socket struct {
	conn *nats.Conn
}

func connect(cfg Config, log logger.Logger) (*socket, error) {
	var err error
	_, err = url.Parse(cfg.Address)
	if err != nil {
		return nil, err
	}
	var s socket
	s.conn, err = nats.Connect(
		cfg.Address,
		nats.Name(cfg.Name),
		nats.Token(cfg.Token),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(fmt.Sprintf("nats [ %s ] disconnected: %s", cfg.Address, err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info(fmt.Sprintf("nats reconnected to [ %s ]", c.ConnectedUrl()))
		}),
	)
	return &s, err
}

// Disconnect drains the message queue and disconnects from the pub/sub.
// Nats Drain will put a connection into a drain state.
// All subscriptions will immediately be put into a drain state.
// Upon completion, the publishers will be drained and can not publish any additional messages.
func (s *socket) Disconnect() error {
	return s.conn.Drain()
}
