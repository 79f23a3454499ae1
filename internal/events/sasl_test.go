package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSASLMechanism(t *testing.T) {
	tests := []struct {
		mechanism string
		name      string
	}{
		{MechanismPlain, "PLAIN"},
		{"plain", "PLAIN"},
		{MechanismScramSHA256, "SCRAM-SHA-256"},
		{MechanismScramSHA512, "SCRAM-SHA-512"},
	}
	for _, tt := range tests {
		m, err := SASL{Mechanism: tt.mechanism, Username: "u", Password: "p"}.mechanism()
		require.NoError(t, err, tt.mechanism)
		assert.Equal(t, tt.name, m.Name())
	}

	_, err := SASL{Mechanism: "GSSAPI"}.mechanism()
	assert.True(t, errors.Is(err, ErrUnsupportedMechanism))
}

func TestClientOpts(t *testing.T) {
	opts, err := clientOpts([]string{"localhost:9092"}, SASL{})
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = clientOpts([]string{"localhost:9092"}, SASL{Mechanism: MechanismPlain, Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = clientOpts([]string{"localhost:9092"}, SASL{Mechanism: MechanismPlain})
	assert.Error(t, err)

	_, err = clientOpts([]string{"localhost:9092"}, SASL{Mechanism: "OAUTHBEARER", Username: "u"})
	assert.True(t, errors.Is(err, ErrUnsupportedMechanism))
}
