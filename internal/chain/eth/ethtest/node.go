// Package ethtest provides an in-process Ethereum node serving the JSON-RPC
// methods the chain source and signer call.
package ethtest

import (
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultChainID is the chain ID a Node reports unless told otherwise.
const DefaultChainID = 1337

// Node is a fake node holding per-address transaction counts. Submitted
// transactions are decoded and recorded; they change no counts unless
// SetAdvancePending is on.
type Node struct {
	mu       sync.Mutex
	chainID  *big.Int
	pending  map[common.Address]uint64
	latest   map[common.Address]uint64
	sent     []*types.Transaction
	tags     []string
	idCalls  int
	countErr error
	sendErr  error
	advance  bool
}

// NewNode creates a node reporting DefaultChainID.
func NewNode() *Node {
	return &Node{
		chainID: big.NewInt(DefaultChainID),
		pending: make(map[common.Address]uint64),
		latest:  make(map[common.Address]uint64),
	}
}

// SetCounts sets the confirmed and pending counts for address.
func (n *Node) SetCounts(address common.Address, latest, pending uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest[address] = latest
	n.pending[address] = pending
}

// SetCountErr makes eth_getTransactionCount fail with err. Nil restores it.
func (n *Node) SetCountErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.countErr = err
}

// SetSendErr makes eth_sendRawTransaction fail with err. Nil restores it.
func (n *Node) SetSendErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = err
}

// SetAdvancePending makes each accepted transaction raise the sender's
// pending count past its nonce, as a real node's mempool would.
func (n *Node) SetAdvancePending(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advance = on
}

// Sent returns the accepted transactions in submission order.
func (n *Node) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// Tags returns the block tags eth_getTransactionCount was called with.
func (n *Node) Tags() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tags...)
}

// ChainIDCalls returns how often eth_chainId was called.
func (n *Node) ChainIDCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.idCalls
}

// Server returns an RPC server exposing the node under the eth namespace.
func (n *Node) Server() (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &service{node: n}); err != nil {
		return nil, err
	}
	return srv, nil
}

// Dial returns an in-process client for the node, closed with the test.
func (n *Node) Dial(tb testing.TB) *rpc.Client {
	tb.Helper()
	srv := n.mustServer(tb)
	client := rpc.DialInProc(srv)
	tb.Cleanup(func() {
		client.Close()
		srv.Stop()
	})
	return client
}

// StartHTTP serves the node over HTTP and returns its URL.
func (n *Node) StartHTTP(tb testing.TB) string {
	tb.Helper()
	srv := n.mustServer(tb)
	ts := httptest.NewServer(srv)
	tb.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return ts.URL
}

func (n *Node) mustServer(tb testing.TB) *rpc.Server {
	tb.Helper()
	srv, err := n.Server()
	if err != nil {
		tb.Fatalf("registering eth service: %v", err)
	}
	return srv
}

// service holds the RPC methods so Node's own methods are not exported over RPC.
type service struct {
	node *Node
}

func (s *service) ChainId() *hexutil.Big { //nolint:revive // method name maps to eth_chainId
	n := s.node
	n.mu.Lock()
	defer n.mu.Unlock()
	n.idCalls++
	return (*hexutil.Big)(new(big.Int).Set(n.chainID))
}

func (s *service) GetTransactionCount(address common.Address, block string) (hexutil.Uint64, error) {
	n := s.node
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tags = append(n.tags, block)
	if n.countErr != nil {
		return 0, n.countErr
	}
	if block == "pending" {
		return hexutil.Uint64(n.pending[address]), nil
	}
	return hexutil.Uint64(n.latest[address]), nil
}

func (s *service) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	n := s.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return common.Hash{}, n.sendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	n.sent = append(n.sent, tx)

	if n.advance {
		from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
		if err == nil && tx.Nonce() >= n.pending[from] {
			n.pending[from] = tx.Nonce() + 1
		}
	}
	return tx.Hash(), nil
}
