package quorum

import (
	"errors"
	"fmt"
	"strings"
)

const (
	echoSeparator  = "#"
	fieldSeparator = ";"
)

var (
	ErrEmptyEchoes   = errors.New("echo signatures are empty")
	ErrMalformedEcho = errors.New("echo line is malformed")
)

// Echo is a replica signature over the canonical text of the pending operation.
type Echo struct {
	ReplicaID string
	Signature string
}

// String returns the wire form "<replicaId>;<signature>".
func (e Echo) String() string {
	return e.ReplicaID + fieldSeparator + e.Signature
}

// ParseEcho parses single echo line.
func ParseEcho(line string) (Echo, error) {
	parts := strings.Split(line, fieldSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Echo{}, errors.Join(ErrMalformedEcho, fmt.Errorf("line %q", line))
	}
	return Echo{ReplicaID: parts[0], Signature: parts[1]}, nil
}

// ParseEchoes parses echo header "id1;sig1#id2;sig2#...".
func ParseEchoes(header string) ([]Echo, error) {
	if header == "" {
		return nil, ErrEmptyEchoes
	}
	lines := strings.Split(header, echoSeparator)
	echoes := make([]Echo, 0, len(lines))
	for _, line := range lines {
		e, err := ParseEcho(line)
		if err != nil {
			return nil, err
		}
		echoes = append(echoes, e)
	}
	return echoes, nil
}

// FormatEchoes builds echo header from the echoes.
func FormatEchoes(echoes []Echo) string {
	lines := make([]string, 0, len(echoes))
	for _, e := range echoes {
		lines = append(lines, e.String())
	}
	return strings.Join(lines, echoSeparator)
}
