package near

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Network names a NEAR deployment.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// DefaultRPCURL returns the public RPC endpoint for n.
func (n Network) DefaultRPCURL() string {
	if n == Testnet {
		return "https://rpc.testnet.near.org"
	}
	return "https://rpc.mainnet.near.org"
}

// DefaultNearBlocksURL returns the NearBlocks API base for n.
func (n Network) DefaultNearBlocksURL() string {
	if n == Testnet {
		return "https://api-testnet.nearblocks.io"
	}
	return "https://api.nearblocks.io"
}

// Valid reports whether n is a known network.
func (n Network) Valid() bool { return n == Mainnet || n == Testnet }

var (
	// ErrUnknownAccount is returned when the queried account does not exist.
	ErrUnknownAccount = errors.New("near: unknown account")
	// ErrUnknownBlock is returned for heights or hashes the node does not know.
	ErrUnknownBlock = errors.New("near: unknown block")
	// ErrNearBlocksUnavailable is returned by activity lookups when no
	// NearBlocks API key is configured.
	ErrNearBlocksUnavailable = errors.New("near: nearblocks API key not configured")
)

// RPCError is a JSON-RPC error returned by a NEAR node.
type RPCError struct {
	Name    string          `json:"name"`
	Cause   *RPCErrorCause  `json:"cause,omitempty"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCErrorCause narrows an RPCError.
type RPCErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Cause != nil && e.Cause.Name != "" {
		return fmt.Sprintf("near rpc: %s: %s", e.Name, e.Cause.Name)
	}
	return fmt.Sprintf("near rpc: %s: %s", e.Name, e.Message)
}

// Is maps well-known causes onto the package sentinels.
func (e *RPCError) Is(target error) bool {
	if e.Cause == nil {
		return false
	}
	switch target {
	case ErrUnknownAccount:
		return e.Cause.Name == "UNKNOWN_ACCOUNT"
	case ErrUnknownBlock:
		return e.Cause.Name == "UNKNOWN_BLOCK"
	}
	return false
}

// BlockRef selects a block by finality, height or hash. The zero value means
// the latest final block.
type BlockRef struct {
	Height uint64
	Hash   string
}

// ParseBlockRef interprets s as "final"/"latest"/"", a decimal height, or a hash.
func ParseBlockRef(s string) BlockRef {
	switch s {
	case "", "final", "latest":
		return BlockRef{}
	}
	if h, err := strconv.ParseUint(s, 10, 64); err == nil {
		return BlockRef{Height: h}
	}
	return BlockRef{Hash: s}
}

func (r BlockRef) params() map[string]any {
	switch {
	case r.Height > 0:
		return map[string]any{"block_id": r.Height}
	case r.Hash != "":
		return map[string]any{"block_id": r.Hash}
	default:
		return map[string]any{"finality": "final"}
	}
}

// Account is the result of view_account.
type Account struct {
	AccountID     string `json:"-"`
	Amount        string `json:"amount"`
	Locked        string `json:"locked"`
	CodeHash      string `json:"code_hash"`
	StorageUsage  uint64 `json:"storage_usage"`
	StoragePaidAt uint64 `json:"storage_paid_at"`
	BlockHeight   uint64 `json:"block_height"`
	BlockHash     string `json:"block_hash"`
}

// HasContract reports whether a contract is deployed on the account.
func (a *Account) HasContract() bool {
	return a.CodeHash != "" && a.CodeHash != "11111111111111111111111111111111"
}

// AccessKey is one entry from view_access_key_list.
type AccessKey struct {
	PublicKey string `json:"public_key"`
	AccessKey struct {
		Nonce      uint64          `json:"nonce"`
		Permission json.RawMessage `json:"permission"`
	} `json:"access_key"`
}

// FunctionCallPermission is the restricted form of an access key permission.
type FunctionCallPermission struct {
	Allowance   *string  `json:"allowance"`
	ReceiverID  string   `json:"receiver_id"`
	MethodNames []string `json:"method_names"`
}

// Permission decodes the key permission. A nil result means full access.
func (k *AccessKey) Permission() (*FunctionCallPermission, error) {
	var s string
	if err := json.Unmarshal(k.AccessKey.Permission, &s); err == nil {
		if s == "FullAccess" {
			return nil, nil
		}
		return nil, fmt.Errorf("unknown permission %q", s)
	}
	var wrapped struct {
		FunctionCall *FunctionCallPermission `json:"FunctionCall"`
	}
	if err := json.Unmarshal(k.AccessKey.Permission, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.FunctionCall == nil {
		return nil, errors.New("unrecognized permission shape")
	}
	return wrapped.FunctionCall, nil
}

// FunctionResult is the result of a view call.
type FunctionResult struct {
	Result      []byte   `json:"-"`
	RawResult   []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
}

// ContractCode summarizes a deployed contract without shipping the wasm.
type ContractCode struct {
	ContractID  string
	Hash        string
	SizeBytes   int
	BlockHeight uint64
}

// BlockHeader is the subset of block header fields the server reports.
type BlockHeader struct {
	Height           uint64 `json:"height"`
	Hash             string `json:"hash"`
	PrevHash         string `json:"prev_hash"`
	Timestamp        uint64 `json:"timestamp"`
	TimestampNanosec string `json:"timestamp_nanosec"`
	GasPrice         string `json:"gas_price"`
	EpochID          string `json:"epoch_id"`
	TotalSupply      string `json:"total_supply"`
}

// Chunk is a shard chunk header.
type Chunk struct {
	ChunkHash string `json:"chunk_hash"`
	ShardID   uint64 `json:"shard_id"`
	GasUsed   uint64 `json:"gas_used"`
	GasLimit  uint64 `json:"gas_limit"`
}

// Block is the result of the block method.
type Block struct {
	Author string      `json:"author"`
	Header BlockHeader `json:"header"`
	Chunks []Chunk     `json:"chunks"`
}

// NetworkStatus is the result of the status method.
type NetworkStatus struct {
	ChainID         string `json:"chain_id"`
	ProtocolVersion uint32 `json:"protocol_version"`
	Version         struct {
		Version string `json:"version"`
		Build   string `json:"build"`
	} `json:"version"`
	SyncInfo struct {
		LatestBlockHash   string `json:"latest_block_hash"`
		LatestBlockHeight uint64 `json:"latest_block_height"`
		LatestBlockTime   string `json:"latest_block_time"`
		Syncing           bool   `json:"syncing"`
	} `json:"sync_info"`
	Validators []struct {
		AccountID string `json:"account_id"`
	} `json:"validators"`
}

// GasPrice is the result of the gas_price method.
type GasPrice struct {
	GasPrice string `json:"gas_price"`
}

// Validator is one entry of the current validator set.
type Validator struct {
	AccountID         string `json:"account_id"`
	Stake             string `json:"stake"`
	IsSlashed         bool   `json:"is_slashed"`
	NumProducedBlocks uint64 `json:"num_produced_blocks"`
	NumExpectedBlocks uint64 `json:"num_expected_blocks"`
}

// Validators is the result of the validators method.
type Validators struct {
	CurrentValidators []Validator `json:"current_validators"`
	NextValidators    []struct {
		AccountID string `json:"account_id"`
		Stake     string `json:"stake"`
	} `json:"next_validators"`
	EpochStartHeight uint64 `json:"epoch_start_height"`
}

// TxStatus is the result of the tx method.
type TxStatus struct {
	Status      map[string]json.RawMessage `json:"status"`
	Transaction struct {
		Hash       string            `json:"hash"`
		SignerID   string            `json:"signer_id"`
		ReceiverID string            `json:"receiver_id"`
		Nonce      uint64            `json:"nonce"`
		Actions    []json.RawMessage `json:"actions"`
	} `json:"transaction"`
	TransactionOutcome struct {
		BlockHash string `json:"block_hash"`
		Outcome   struct {
			GasBurnt    uint64 `json:"gas_burnt"`
			TokensBurnt string `json:"tokens_burnt"`
		} `json:"outcome"`
	} `json:"transaction_outcome"`
	ReceiptsOutcome []json.RawMessage `json:"receipts_outcome"`
}

// Succeeded reports whether the final execution status is a success.
func (t *TxStatus) Succeeded() bool {
	_, ok := t.Status["SuccessValue"]
	if !ok {
		_, ok = t.Status["SuccessReceiptId"]
	}
	return ok
}

// Activity is one transaction touching an account, as indexed by NearBlocks.
type Activity struct {
	TransactionHash string `json:"transaction_hash"`
	BlockTimestamp  string `json:"block_timestamp"`
	Predecessor     string `json:"predecessor_account_id"`
	Receiver        string `json:"receiver_account_id"`
	Actions         []struct {
		Action string `json:"action"`
		Method string `json:"method"`
	} `json:"actions"`
	Outcomes struct {
		Status *bool `json:"status"`
	} `json:"outcomes"`
}
