// Package ingest streams pending transactions from a live node's
// subscription feed into the signal engine, the online analogue of the
// teacher's mempool poller.
package ingest

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rawblock/sentinel-engine/internal/signal"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

const seenResetInterval = 1 * time.Hour

// Poller subscribes to a node's pending-transaction feed and runs each
// new transaction through the signal engine.
type Poller struct {
	rpc    *ethclient.Client
	engine *signal.Engine
	seen   map[common.Hash]bool
}

// NewPoller constructs a poller bound to rpc and engine. rpc may be nil,
// in which case Run returns immediately (API-only mode).
func NewPoller(rpc *ethclient.Client, engine *signal.Engine) *Poller {
	return &Poller{rpc: rpc, engine: engine, seen: make(map[common.Hash]bool)}
}

// Run subscribes to new pending transaction hashes and analyzes each one
// exactly once, until ctx is canceled. It degrades to a 3-second polling
// loop over the latest block's transactions when the node does not
// support the newPendingTransactions subscription.
func (p *Poller) Run(ctx context.Context) {
	if p.rpc == nil {
		log.Println("ingest: RPC client is nil; poller will not start")
		return
	}

	log.Println("starting pending-transaction ingest poller...")

	hashes := make(chan common.Hash, 256)
	sub, err := p.rpc.Client().EthSubscribe(ctx, hashes, "newPendingTransactions")
	if err != nil {
		log.Printf("ingest: pending-transaction subscription unavailable (%v); falling back to block polling", err)
		p.runBlockPolling(ctx)
		return
	}
	defer sub.Unsubscribe()

	cleanup := time.NewTicker(seenResetInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("stopping ingest poller...")
			return
		case err := <-sub.Err():
			log.Printf("ingest: subscription error: %v", err)
			return
		case <-cleanup.C:
			p.seen = make(map[common.Hash]bool)
		case h := <-hashes:
			p.handleHash(ctx, h)
		}
	}
}

func (p *Poller) handleHash(ctx context.Context, h common.Hash) {
	if p.seen[h] {
		return
	}
	p.seen[h] = true

	tx, isPending, err := p.rpc.TransactionByHash(ctx, h)
	if err != nil || tx == nil || !isPending {
		return
	}

	pending := toPendingTransaction(tx)
	p.engine.AnalyzePending(ctx, pending)
}

// runBlockPolling is the degraded-mode fallback: poll the latest block
// every 3 seconds and analyze each of its transactions as if newly seen.
// Used only against nodes that don't expose a pending-tx subscription.
func (p *Poller) runBlockPolling(ctx context.Context) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	var lastBlock uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := p.rpc.BlockByNumber(ctx, nil)
			if err != nil || head.NumberU64() <= lastBlock {
				continue
			}
			lastBlock = head.NumberU64()
			for _, tx := range head.Transactions() {
				p.engine.AnalyzePending(ctx, toPendingTransaction(tx))
			}
		}
	}
}

func toPendingTransaction(tx *types.Transaction) *trace.PendingTransaction {
	p := &trace.PendingTransaction{
		Hash:     tx.Hash(),
		To:       tx.To(),
		Value:    tx.Value(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Input:    tx.Data(),
		Nonce:    tx.Nonce(),
		ChainID:  tx.ChainId(),
	}
	if tip := tx.GasTipCap(); tip != nil {
		p.MaxPriorityFeePerGas = tip
	}
	if fee := tx.GasFeeCap(); fee != nil {
		p.MaxFeePerGas = fee
	}
	if signer, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		p.From = signer
	}
	return p
}
