package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Clients holds one node connection per chain.
type Clients struct {
	clients map[uint64]*ethclient.Client
}

// Dial connects to every RPC URL, keyed by the chain ID it must serve.
func Dial(ctx context.Context, urls map[uint64]string) (*Clients, error) {
	c := &Clients{clients: make(map[uint64]*ethclient.Client, len(urls))}
	for chainID, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to dial chain %d: %w", chainID, err)
		}
		got, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			c.Close()
			return nil, fmt.Errorf("failed to get chain ID from %s: %w", url, err)
		}
		if !got.IsUint64() || got.Uint64() != chainID {
			client.Close()
			c.Close()
			return nil, fmt.Errorf("node at %s serves chain %s, want %d", url, got, chainID)
		}
		c.clients[chainID] = client
	}
	return c, nil
}

// TxBackends returns the clients as transaction backends.
func (c *Clients) TxBackends() map[uint64]TxBackend {
	out := make(map[uint64]TxBackend, len(c.clients))
	for id, client := range c.clients {
		out[id] = client
	}
	return out
}

// CallBackends returns the clients as read backends.
func (c *Clients) CallBackends() map[uint64]CallBackend {
	out := make(map[uint64]CallBackend, len(c.clients))
	for id, client := range c.clients {
		out[id] = client
	}
	return out
}

// Close closes every connection.
func (c *Clients) Close() {
	for _, client := range c.clients {
		client.Close()
	}
}
