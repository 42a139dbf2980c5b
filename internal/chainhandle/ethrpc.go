// Package chainhandle implements the bytecode extractor's ChainHandle
// contract against a live node, wrapping go-ethereum's JSON-RPC client
// the way the teacher wraps Bitcoin Core's RPC client.
package chainhandle

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is a thin RPC wrapper satisfying both bytecode.ChainHandle and
// aggregator.ChainHandle (identical method sets).
type Client struct {
	RPC  *ethclient.Client
	Host string
}

// Config carries the node endpoint.
type Config struct {
	RPCURL string
}

// NewClient dials the configured node and verifies the connection by
// fetching the current block number.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	log.Printf("connecting to EVM node at %s...", cfg.RPCURL)
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainhandle: dial failed: %w", err)
	}

	blockNumber, err := rpc.BlockNumber(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("chainhandle: connectivity check failed: %w", err)
	}
	log.Printf("connected to EVM node. current block height: %d", blockNumber)

	return &Client{RPC: rpc, Host: cfg.RPCURL}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.RPC.Close()
}

// GetCode returns the deployed bytecode at address, optionally pinned to
// a historical block number. A nil blockNumber means "latest".
func (c *Client) GetCode(ctx context.Context, address common.Address, blockNumber *uint64) ([]byte, error) {
	if blockNumber == nil {
		return c.RPC.CodeAt(ctx, address, nil)
	}
	return c.RPC.CodeAt(ctx, address, new(big.Int).SetUint64(*blockNumber))
}

// CurrentBlock returns the chain's latest known block number.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	return c.RPC.BlockNumber(ctx)
}
