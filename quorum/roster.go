package quorum

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

var (
	ErrEmptyRoster        = errors.New("replica roster is empty")
	ErrDuplicateReplica   = errors.New("replica id is duplicated in the roster")
	ErrMissingReplicaID   = errors.New("replica id is missing")
	ErrInvalidReplicaKey  = errors.New("replica public key is invalid")
	ErrReplicaNotInRoster = errors.New("replica is not in the roster")
)

type keyParser interface {
	AddressToPubKey(address string) (ed25519.PublicKey, error)
}

// Replica describes one member of the replica set.
type Replica struct {
	ID        string `yaml:"id"         json:"id"`         // Unique replica name, used in echo lines.
	PublicKey string `yaml:"public_key" json:"public_key"` // Replica wallet address.
	URL       string `yaml:"url"        json:"url"`        // Base URL at which the replica can be reached.
}

// Config is the static replica roster supplied at startup.
type Config struct {
	Replicas []Replica `yaml:"replicas"`
}

// Roster is the ordered, validated replica set.
type Roster struct {
	replicas []Replica
	byID     map[string]Replica
}

// NewRoster validates the configuration and creates the Roster.
func NewRoster(cfg Config, kp keyParser) (Roster, error) {
	if len(cfg.Replicas) == 0 {
		return Roster{}, ErrEmptyRoster
	}
	r := Roster{
		replicas: make([]Replica, 0, len(cfg.Replicas)),
		byID:     make(map[string]Replica, len(cfg.Replicas)),
	}
	for _, rep := range cfg.Replicas {
		if rep.ID == "" {
			return Roster{}, ErrMissingReplicaID
		}
		if _, ok := r.byID[rep.ID]; ok {
			return Roster{}, errors.Join(ErrDuplicateReplica, fmt.Errorf("id %q", rep.ID))
		}
		if _, err := kp.AddressToPubKey(rep.PublicKey); err != nil {
			return Roster{}, errors.Join(ErrInvalidReplicaKey, fmt.Errorf("id %q", rep.ID), err)
		}
		r.byID[rep.ID] = rep
		r.replicas = append(r.replicas, rep)
	}
	return r, nil
}

// Size returns number of replicas N.
func (r Roster) Size() int {
	return len(r.replicas)
}

// Lookup returns replica with the given id.
func (r Roster) Lookup(id string) (Replica, bool) {
	rep, ok := r.byID[id]
	return rep, ok
}

// Replicas returns copy of the ordered replica list.
func (r Roster) Replicas() []Replica {
	out := make([]Replica, len(r.replicas))
	copy(out, r.replicas)
	return out
}

// MaxFaults returns the number of faulty replicas f tolerated by n replicas.
func MaxFaults(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 3
}

// Threshold returns the number of echoes that must be exceeded to form a Byzantine quorum.
func Threshold(n int) int {
	return (n + MaxFaults(n)) / 2
}

// HasQuorum tells if count echoes form a Byzantine quorum among n replicas.
func HasQuorum(count, n int) bool {
	return count > Threshold(n)
}
