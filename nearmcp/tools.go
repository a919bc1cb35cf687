package nearmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/NEARWEEK/MCP/mcp"
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/NEARWEEK/MCP/near"
)

// metaBlockHeight is the _meta key carrying the block a result was read at.
const metaBlockHeight = "near/blockHeight"

var accountIDPattern = regexp.MustCompile(`^(([a-z0-9]+[-_])*[a-z0-9]+\.)*([a-z0-9]+[-_])*[a-z0-9]+$`)

// ValidateAccountID applies NEAR account ID rules: 2 to 64 characters of
// lowercase alphanumerics separated by '-' or '_', in dot-separated parts.
func ValidateAccountID(id string) error {
	if len(id) < 2 || len(id) > 64 {
		return fmt.Errorf("account ID %q must be 2-64 characters", id)
	}
	if !accountIDPattern.MatchString(id) {
		return fmt.Errorf("account ID %q is not a valid NEAR account ID", id)
	}
	return nil
}

type accountArgs struct {
	AccountID string `json:"accountId" jsonschema:"description=NEAR account ID such as alice.near,minLength=2,maxLength=64"`
}

func (a accountArgs) Validate() error { return ValidateAccountID(a.AccountID) }

type activityArgs struct {
	AccountID string `json:"accountId" jsonschema:"description=NEAR account ID such as alice.near,minLength=2,maxLength=64"`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Number of transactions to return,minimum=1,maximum=100,default=10"`
}

func (a activityArgs) Validate() error {
	if a.Limit < 0 || a.Limit > 100 {
		return fmt.Errorf("limit must be between 1 and 100")
	}
	return ValidateAccountID(a.AccountID)
}

type viewFunctionArgs struct {
	ContractID string         `json:"contractId" jsonschema:"description=Account the contract is deployed on"`
	MethodName string         `json:"methodName" jsonschema:"description=View method to call,minLength=1"`
	Args       map[string]any `json:"args,omitempty" jsonschema:"description=JSON arguments passed to the method"`
}

func (a viewFunctionArgs) Validate() error {
	if strings.TrimSpace(a.MethodName) == "" {
		return errors.New("methodName is required")
	}
	return ValidateAccountID(a.ContractID)
}

type contractArgs struct {
	ContractID string `json:"contractId" jsonschema:"description=Account the contract is deployed on"`
}

func (a contractArgs) Validate() error { return ValidateAccountID(a.ContractID) }

type blockArgs struct {
	BlockID string `json:"blockId,omitempty" jsonschema:"description=Block height or hash; omit for the latest final block"`
}

type latestBlocksArgs struct {
	Count int `json:"count,omitempty" jsonschema:"description=Number of recent blocks,minimum=1,maximum=50,default=10"`
}

func (a latestBlocksArgs) Validate() error {
	if a.Count < 0 || a.Count > near.MaxLatestBlocks {
		return fmt.Errorf("count must be between 1 and %d", near.MaxLatestBlocks)
	}
	return nil
}

type validatorsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum validators to list,minimum=1,maximum=500,default=20"`
}

func (a validatorsArgs) Validate() error {
	if a.Limit < 0 || a.Limit > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	return nil
}

type txArgs struct {
	TxHash   string `json:"txHash" jsonschema:"description=Transaction hash (base58),minLength=32"`
	SenderID string `json:"senderId" jsonschema:"description=Account that signed the transaction"`
}

func (a txArgs) Validate() error {
	if strings.TrimSpace(a.TxHash) == "" {
		return errors.New("txHash is required")
	}
	return ValidateAccountID(a.SenderID)
}

type noArgs struct{}

func (c *Catalog) accountTools() []mcpservice.Tool {
	return []mcpservice.Tool{
		mcpservice.NewTool[accountArgs]("near_view_account", c.viewAccount,
			mcpservice.WithToolTitle("View account"),
			mcpservice.WithToolDescription("Balance, storage and contract status of a NEAR account."),
		),
		mcpservice.NewTool[accountArgs]("near_view_access_keys", c.viewAccessKeys,
			mcpservice.WithToolTitle("View access keys"),
			mcpservice.WithToolDescription("List the access keys of a NEAR account with their permissions."),
		),
		mcpservice.NewTool[activityArgs]("near_account_activity", c.accountActivity,
			mcpservice.WithToolTitle("Account activity"),
			mcpservice.WithToolDescription("Recent transactions involving an account, from the NearBlocks indexer."),
		),
	}
}

func (c *Catalog) contractTools() []mcpservice.Tool {
	return []mcpservice.Tool{
		mcpservice.NewTool[viewFunctionArgs]("near_view_function", c.viewFunction,
			mcpservice.WithToolTitle("Call view function"),
			mcpservice.WithToolDescription("Call a read-only method on a NEAR smart contract."),
		),
		mcpservice.NewTool[contractArgs]("near_contract_info", c.contractInfo,
			mcpservice.WithToolTitle("Contract info"),
			mcpservice.WithToolDescription("Code hash, size and source metadata of a deployed contract."),
		),
	}
}

func (c *Catalog) chainTools() []mcpservice.Tool {
	return []mcpservice.Tool{
		mcpservice.NewTool[blockArgs]("near_get_block", c.getBlock,
			mcpservice.WithToolTitle("Get block"),
			mcpservice.WithToolDescription("Fetch a block by height or hash, or the latest final block."),
		),
		mcpservice.NewTool[latestBlocksArgs]("near_latest_blocks", c.latestBlocks,
			mcpservice.WithToolTitle("Latest blocks"),
			mcpservice.WithToolDescription("Summaries of the most recent final blocks."),
		),
		mcpservice.NewTool[noArgs]("near_network_status", c.networkStatus,
			mcpservice.WithToolTitle("Network status"),
			mcpservice.WithToolDescription("Chain ID, protocol version and sync state of the network."),
		),
		mcpservice.NewTool[noArgs]("near_gas_price", c.gasPrice,
			mcpservice.WithToolTitle("Gas price"),
			mcpservice.WithToolDescription("Current gas price."),
		),
		mcpservice.NewTool[validatorsArgs]("near_validators", c.validators,
			mcpservice.WithToolTitle("Validators"),
			mcpservice.WithToolDescription("Current validator set with stake and uptime."),
		),
		mcpservice.NewTool[txArgs]("near_tx_status", c.txStatus,
			mcpservice.WithToolTitle("Transaction status"),
			mcpservice.WithToolDescription("Outcome of a transaction by hash and signer."),
		),
	}
}

func (c *Catalog) viewAccount(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[accountArgs]) error {
	id := r.Args().AccountID
	acct, err := c.client.ViewAccount(ctx, id)
	if errors.Is(err, near.ErrUnknownAccount) {
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("Account %s does not exist on %s.", id, c.network))
	}
	if err != nil {
		return fmt.Errorf("view account %s: %w", id, err)
	}
	acct.AccountID = id
	w.SetMeta(metaBlockHeight, acct.BlockHeight)
	return w.AppendText(formatAccount(acct))
}

func (c *Catalog) viewAccessKeys(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[accountArgs]) error {
	id := r.Args().AccountID
	keys, err := c.client.ViewAccessKeys(ctx, id)
	if errors.Is(err, near.ErrUnknownAccount) {
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("Account %s does not exist on %s.", id, c.network))
	}
	if err != nil {
		return fmt.Errorf("view access keys %s: %w", id, err)
	}
	return w.AppendText(formatAccessKeys(id, keys))
}

func (c *Catalog) accountActivity(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[activityArgs]) error {
	args := r.Args()
	limit := args.Limit
	if limit == 0 {
		limit = 10
	}
	items, err := c.client.AccountActivity(ctx, args.AccountID, limit)
	if errors.Is(err, near.ErrNearBlocksUnavailable) {
		w.SetError(true)
		return w.AppendText("Account activity requires a NearBlocks API key, which this server does not have configured.")
	}
	if err != nil {
		return fmt.Errorf("account activity %s: %w", args.AccountID, err)
	}
	return w.AppendText(formatActivity(args.AccountID, items))
}

func (c *Catalog) viewFunction(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[viewFunctionArgs]) error {
	args := r.Args()
	raw := json.RawMessage("{}")
	if args.Args != nil {
		b, err := json.Marshal(args.Args)
		if err != nil {
			return mcpservice.InvalidParams("args is not encodable: %v", err)
		}
		raw = b
	}
	res, err := c.client.ViewFunction(ctx, args.ContractID, args.MethodName, raw)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", args.ContractID, args.MethodName, err)
	}
	w.Log(mcp.LoggingLevelDebug, map[string]any{"contract": args.ContractID, "method": args.MethodName, "bytes": len(res.Result)})
	w.SetMeta(metaBlockHeight, res.BlockHeight)
	return w.AppendText(formatFunctionResult(args.ContractID, args.MethodName, res))
}

func (c *Catalog) contractInfo(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[contractArgs]) error {
	text, err := c.describeContract(ctx, r.Args().ContractID)
	if err != nil {
		return err
	}
	return w.AppendText(text)
}

func (c *Catalog) getBlock(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[blockArgs]) error {
	ref := near.ParseBlockRef(strings.TrimSpace(r.Args().BlockID))
	blk, err := c.client.Block(ctx, ref)
	if errors.Is(err, near.ErrUnknownBlock) {
		w.SetError(true)
		return w.AppendText(fmt.Sprintf("Block %s is unknown to the node.", r.Args().BlockID))
	}
	if err != nil {
		return fmt.Errorf("get block: %w", err)
	}
	return w.AppendText(formatBlock(blk))
}

func (c *Catalog) latestBlocks(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[latestBlocksArgs]) error {
	count := r.Args().Count
	if count == 0 {
		count = defaultLatestBlocks
	}
	blocks, err := c.client.LatestBlocks(ctx, count)
	if err != nil {
		return fmt.Errorf("latest blocks: %w", err)
	}
	if len(blocks) < count {
		w.Log(mcp.LoggingLevelInfo, fmt.Sprintf("%d of %d heights were skipped by the chain", count-len(blocks), count))
	}
	return w.AppendText(formatBlocks(blocks))
}

func (c *Catalog) networkStatus(ctx context.Context, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[noArgs]) error {
	st, err := c.client.NetworkStatus(ctx)
	if err != nil {
		return fmt.Errorf("network status: %w", err)
	}
	return w.AppendText(formatNetworkStatus(c.network, st))
}

func (c *Catalog) gasPrice(ctx context.Context, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[noArgs]) error {
	gp, err := c.client.GasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	return w.AppendText(formatGasPrice(gp))
}

func (c *Catalog) validators(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[validatorsArgs]) error {
	limit := r.Args().Limit
	if limit == 0 {
		limit = 20
	}
	v, err := c.client.Validators(ctx)
	if err != nil {
		return fmt.Errorf("validators: %w", err)
	}
	return w.AppendText(formatValidators(v, limit))
}

func (c *Catalog) txStatus(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[txArgs]) error {
	args := r.Args()
	tx, err := c.client.TxStatus(ctx, args.TxHash, args.SenderID)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", args.TxHash, err)
	}
	return w.AppendText(formatTx(tx))
}
