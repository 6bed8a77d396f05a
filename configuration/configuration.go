// Package configuration reads the yaml configuration of the replica and the client.
package configuration

import (
	"errors"
	"fmt"
	"os"

	"github.com/bartossh/echoledger/client"
	"github.com/bartossh/echoledger/echocache"
	"github.com/bartossh/echoledger/fileoperations"
	"github.com/bartossh/echoledger/natsclient"
	"github.com/bartossh/echoledger/quorum"
	"github.com/bartossh/echoledger/repository"
	"github.com/bartossh/echoledger/server"
	"github.com/bartossh/echoledger/telemetry"
	"gopkg.in/yaml.v2"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var (
	ErrUnknownDriver    = errors.New("unknown storage driver")
	ErrMissingReplicaID = errors.New("replica id is missing")
)

// Storage selects the persistence driver.
type Storage struct {
	Driver string `yaml:"driver"`
}

// Replica identifies this replica in the roster and points to its sealed wallet.
type Replica struct {
	ID           string                `yaml:"id"`
	FileOperator fileoperations.Config `yaml:"file_operator"`
}

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Replica     Replica               `yaml:"replica"`
	Server      server.Config         `yaml:"server"`
	Storage     Storage               `yaml:"storage"`
	Database    repository.DBConfig   `yaml:"database"`
	PendingEcho echocache.Config      `yaml:"pending_echo"`
	Quorum      quorum.Config         `yaml:"quorum"`
	Nats        natsclient.Config     `yaml:"nats"`
	Telemetry   telemetry.Config      `yaml:"telemetry"`
	Client      client.Config         `yaml:"client"`
	Wallet      fileoperations.Config `yaml:"wallet"` // sealed wallet of the client
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	if main.Storage.Driver == "" {
		main.Storage.Driver = DriverPostgres
	}
	if len(main.Client.Replicas) == 0 {
		main.Client.Replicas = main.Quorum.Replicas
	}

	return main, nil
}

// ValidateReplica checks the configuration is complete enough to run the replica.
func (c Configuration) ValidateReplica() error {
	if c.Replica.ID == "" {
		return ErrMissingReplicaID
	}
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return errors.Join(ErrUnknownDriver, fmt.Errorf("driver %q", c.Storage.Driver))
	}
	return nil
}
