package eth

import (
	"errors"
	"testing"

	"github.com/mrz1836/noncer/internal/chain/eth/ethtest"
)

var errNodeDown = errors.New("node down")

func newTestSource(t *testing.T, node *ethtest.Node, opts *SourceOptions) *Source {
	t.Helper()

	source := NewSourceFromClient(node.Dial(t), opts)
	t.Cleanup(source.Close)
	return source
}
