// Package near is the backing data client: a fixed set of read-only queries
// against a NEAR JSON-RPC node plus indexed account activity from NearBlocks.
package near

import (
	"context"
	"encoding/json"
)

// Client is the query surface the capability layer depends on.
type Client interface {
	ViewAccount(ctx context.Context, accountID string) (*Account, error)
	ViewAccessKeys(ctx context.Context, accountID string) ([]AccessKey, error)
	ViewFunction(ctx context.Context, contractID, method string, args json.RawMessage) (*FunctionResult, error)
	ViewCode(ctx context.Context, contractID string) (*ContractCode, error)
	Block(ctx context.Context, ref BlockRef) (*Block, error)
	LatestBlocks(ctx context.Context, count int) ([]Block, error)
	NetworkStatus(ctx context.Context) (*NetworkStatus, error)
	GasPrice(ctx context.Context) (*GasPrice, error)
	Validators(ctx context.Context) (*Validators, error)
	TxStatus(ctx context.Context, hash, senderID string) (*TxStatus, error)
	AccountActivity(ctx context.Context, accountID string, limit int) ([]Activity, error)
}

// Service composes an RPC node client with an optional NearBlocks client.
type Service struct {
	*RPCClient
	network    Network
	nearblocks *NearBlocksClient
}

// NewService joins rpc and nb (which may be nil) into a Client.
func NewService(network Network, rpc *RPCClient, nb *NearBlocksClient) *Service {
	return &Service{RPCClient: rpc, network: network, nearblocks: nb}
}

// Network returns the configured network.
func (s *Service) Network() Network { return s.network }

// NearBlocksConfigured reports whether the secondary API key is present.
func (s *Service) NearBlocksConfigured() bool { return s.nearblocks.Configured() }

// AccountActivity implements Client.
func (s *Service) AccountActivity(ctx context.Context, accountID string, limit int) ([]Activity, error) {
	if s.nearblocks == nil {
		return nil, ErrNearBlocksUnavailable
	}
	return s.nearblocks.AccountActivity(ctx, accountID, limit)
}

var _ Client = (*Service)(nil)
