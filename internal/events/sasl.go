package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// SASL mechanisms accepted for broker authentication.
const (
	MechanismPlain       = "PLAIN"
	MechanismScramSHA256 = "SCRAM-SHA-256"
	MechanismScramSHA512 = "SCRAM-SHA-512"
)

// ErrUnsupportedMechanism is returned for an unknown SASL mechanism.
var ErrUnsupportedMechanism = errors.New("events: unsupported SASL mechanism")

// SASL holds broker credentials. The zero value disables authentication.
type SASL struct {
	Mechanism string
	Username  string
	Password  string
}

// Enabled reports whether a mechanism is set.
func (s SASL) Enabled() bool {
	return s.Mechanism != ""
}

func (s SASL) mechanism() (sasl.Mechanism, error) {
	switch strings.ToUpper(s.Mechanism) {
	case MechanismPlain:
		return plain.Auth{User: s.Username, Pass: s.Password}.AsMechanism(), nil
	case MechanismScramSHA256:
		return scram.Auth{User: s.Username, Pass: s.Password}.AsSha256Mechanism(), nil
	case MechanismScramSHA512:
		return scram.Auth{User: s.Username, Pass: s.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMechanism, s.Mechanism)
	}
}

// clientOpts returns the options shared by the consumer and admin clients.
func clientOpts(brokers []string, auth SASL) ([]kgo.Opt, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(brokers...)}
	if !auth.Enabled() {
		return opts, nil
	}
	if auth.Username == "" {
		return nil, errors.New("events: SASL username is required")
	}
	m, err := auth.mechanism()
	if err != nil {
		return nil, err
	}
	return append(opts, kgo.SASL(m)), nil
}
