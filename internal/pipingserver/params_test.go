package pipingserver

import (
	"net/url"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseReceiverCountDefault(t *testing.T) {
	n, err := parseReceiverCount(url.Values{})
	assert.NilError(t, err)
	assert.Equal(t, n, 1)
}

func TestParseReceiverCountValid(t *testing.T) {
	n, err := parseReceiverCount(url.Values{"n": {"3"}})
	assert.NilError(t, err)
	assert.Equal(t, n, 3)
}

func TestParseReceiverCountRejectsNonInteger(t *testing.T) {
	_, err := parseReceiverCount(url.Values{"n": {"hoge"}})
	assert.ErrorContains(t, err, "not an integer")
}

func TestParseReceiverCountRejectsZero(t *testing.T) {
	_, err := parseReceiverCount(url.Values{"n": {"0"}})
	assert.ErrorContains(t, err, "not >= 1")
}

func TestParseReceiverCountRejectsNegative(t *testing.T) {
	_, err := parseReceiverCount(url.Values{"n": {"-1"}})
	assert.ErrorContains(t, err, "not >= 1")
}

func TestParseReceiverCountRejectsEmpty(t *testing.T) {
	_, err := parseReceiverCount(url.Values{"n": {""}})
	assert.ErrorContains(t, err, "not an integer")
}
