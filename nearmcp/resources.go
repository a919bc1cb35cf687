package nearmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/NEARWEEK/MCP/mcp"
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/NEARWEEK/MCP/near"
)

const defaultLatestBlocks = 10

func (c *Catalog) chainResources() []mcpservice.StaticResource {
	return []mcpservice.StaticResource{
		mcpservice.NewStaticResource("near://blocks/latest", "Latest blocks", c.readLatestBlocks,
			mcpservice.WithResourceDescription("Most recent final blocks. Accepts ?count=N (default 10, max 50)."),
			mcpservice.WithResourceMimeType(markdownMimeType),
		),
		mcpservice.NewStaticResource("near://network/status", "Network status", c.readNetworkStatus,
			mcpservice.WithResourceDescription("Chain ID, protocol version and sync state."),
			mcpservice.WithResourceMimeType(markdownMimeType),
		),
	}
}

func (c *Catalog) accountTemplates() []mcpservice.ResourceTemplate {
	return []mcpservice.ResourceTemplate{
		mcpservice.MustResourceTemplate("near://account/{accountId}", "Account", c.readAccount,
			mcpservice.WithResourceDescription("Balance, storage and contract status of an account."),
			mcpservice.WithResourceMimeType(markdownMimeType),
		),
	}
}

func (c *Catalog) contractTemplates() []mcpservice.ResourceTemplate {
	return []mcpservice.ResourceTemplate{
		mcpservice.MustResourceTemplate("near://contract/{contractId}/readme", "Contract readme", c.readContractReadme,
			mcpservice.WithResourceDescription("Summary of a deployed contract and its source metadata."),
			mcpservice.WithResourceMimeType(markdownMimeType),
		),
	}
}

func markdown(uri, text string) []mcp.ResourceContents {
	return []mcp.ResourceContents{{URI: uri, MimeType: markdownMimeType, Text: text}}
}

func (c *Catalog) readLatestBlocks(ctx context.Context, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
	count := defaultLatestBlocks
	if raw := req.Query.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, mcpservice.InvalidParams("count must be a positive integer, got %q", raw)
		}
		count = min(n, near.MaxLatestBlocks)
	}
	blocks, err := c.client.LatestBlocks(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("latest blocks: %w", err)
	}
	return markdown(req.URI, formatBlocks(blocks)), nil
}

func (c *Catalog) readNetworkStatus(ctx context.Context, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := c.client.NetworkStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("network status: %w", err)
	}
	return markdown(req.URI, formatNetworkStatus(c.network, st)), nil
}

func (c *Catalog) readAccount(ctx context.Context, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
	id := req.Param("accountId")
	if err := ValidateAccountID(id); err != nil {
		return nil, mcpservice.InvalidParams("%v", err)
	}
	acct, err := c.client.ViewAccount(ctx, id)
	if errors.Is(err, near.ErrUnknownAccount) {
		return nil, mcpservice.ErrResourceNotFound(req.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("view account %s: %w", id, err)
	}
	acct.AccountID = id
	return markdown(req.URI, formatAccount(acct)), nil
}

func (c *Catalog) readContractReadme(ctx context.Context, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
	id := req.Param("contractId")
	if err := ValidateAccountID(id); err != nil {
		return nil, mcpservice.InvalidParams("%v", err)
	}
	text, err := c.describeContract(ctx, id)
	if errors.Is(err, near.ErrUnknownAccount) {
		return nil, mcpservice.ErrResourceNotFound(req.URI)
	}
	if err != nil {
		return nil, err
	}
	return markdown(req.URI, text), nil
}

// describeContract combines account state, code summary and the optional
// NEP-330 contract_source_metadata view. Metadata failures are ignored.
func (c *Catalog) describeContract(ctx context.Context, id string) (string, error) {
	acct, err := c.client.ViewAccount(ctx, id)
	if err != nil {
		return "", fmt.Errorf("view account %s: %w", id, err)
	}
	if !acct.HasContract() {
		return fmt.Sprintf("# Contract %s\n\nNo contract is deployed on this account.\n", id), nil
	}
	code, err := c.client.ViewCode(ctx, id)
	if err != nil {
		return "", fmt.Errorf("view code %s: %w", id, err)
	}
	var metadata json.RawMessage
	if res, err := c.client.ViewFunction(ctx, id, "contract_source_metadata", json.RawMessage("{}")); err == nil && json.Valid(res.Result) {
		metadata = res.Result
	}
	return formatContract(acct, code, metadata), nil
}
