package nearmcp

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/NEARWEEK/MCP/near"
	"github.com/dustin/go-humanize"
	"github.com/tidwall/pretty"
)

const markdownMimeType = "text/markdown"

var yoctoPerNEAR = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// FormatNEAR renders a yoctoNEAR amount as NEAR with up to five decimals.
// Unparseable input is returned unchanged.
func FormatNEAR(yocto string) string {
	v, ok := new(big.Int).SetString(yocto, 10)
	if !ok {
		return yocto
	}
	neg := v.Sign() < 0
	v.Abs(v)
	whole, frac := new(big.Int).QuoRem(v, yoctoPerNEAR, new(big.Int))

	fracStr := fmt.Sprintf("%024s", frac.String())[:5]
	fracStr = strings.TrimRight(fracStr, "0")

	out := humanize.BigComma(whole)
	if fracStr != "" {
		out += "." + fracStr
	}
	if neg {
		out = "-" + out
	}
	return out + " NEAR"
}

func formatNanos(ns uint64) string {
	if ns == 0 {
		return "unknown"
	}
	return time.Unix(0, int64(ns)).UTC().Format(time.RFC3339)
}

func formatActivityTime(ts string) string {
	var ns big.Int
	if _, ok := ns.SetString(ts, 10); !ok || !ns.IsUint64() {
		return ts
	}
	return formatNanos(ns.Uint64())
}

func formatAccount(a *near.Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Account %s\n\n", a.AccountID)
	fmt.Fprintf(&b, "- **Balance:** %s\n", FormatNEAR(a.Amount))
	fmt.Fprintf(&b, "- **Locked (staked):** %s\n", FormatNEAR(a.Locked))
	fmt.Fprintf(&b, "- **Storage used:** %s\n", humanize.IBytes(a.StorageUsage))
	if a.HasContract() {
		fmt.Fprintf(&b, "- **Contract:** deployed (code hash `%s`)\n", a.CodeHash)
	} else {
		b.WriteString("- **Contract:** none\n")
	}
	fmt.Fprintf(&b, "- **As of block:** %s (`%s`)\n", humanize.Comma(int64(a.BlockHeight)), a.BlockHash)
	return b.String()
}

func formatAccessKeys(accountID string, keys []near.AccessKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Access keys for %s\n\n", accountID)
	if len(keys) == 0 {
		b.WriteString("No access keys.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%d key(s).\n\n", len(keys))
	b.WriteString("| Public key | Nonce | Permission |\n|---|---|---|\n")
	for _, k := range keys {
		perm, err := k.Permission()
		var desc string
		switch {
		case err != nil:
			desc = "unknown"
		case perm == nil:
			desc = "FullAccess"
		default:
			methods := "any method"
			if len(perm.MethodNames) > 0 {
				methods = strings.Join(perm.MethodNames, ", ")
			}
			allowance := "unlimited"
			if perm.Allowance != nil {
				allowance = FormatNEAR(*perm.Allowance)
			}
			desc = fmt.Sprintf("FunctionCall on %s (%s; allowance %s)", perm.ReceiverID, methods, allowance)
		}
		fmt.Fprintf(&b, "| `%s` | %d | %s |\n", k.PublicKey, k.AccessKey.Nonce, desc)
	}
	return b.String()
}

func formatActivity(accountID string, items []near.Activity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Recent activity for %s\n\n", accountID)
	if len(items) == 0 {
		b.WriteString("No transactions found.\n")
		return b.String()
	}
	b.WriteString("| Time | Transaction | From | To | Actions | Status |\n|---|---|---|---|---|---|\n")
	for _, it := range items {
		var actions []string
		for _, a := range it.Actions {
			if a.Method != "" {
				actions = append(actions, a.Action+"("+a.Method+")")
			} else {
				actions = append(actions, a.Action)
			}
		}
		status := "pending"
		if it.Outcomes.Status != nil {
			status = "failed"
			if *it.Outcomes.Status {
				status = "success"
			}
		}
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %s | %s |\n",
			formatActivityTime(it.BlockTimestamp), it.TransactionHash, it.Predecessor, it.Receiver,
			strings.Join(actions, ", "), status)
	}
	return b.String()
}

func formatFunctionResult(contractID, method string, res *near.FunctionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s.%s\n\n", contractID, method)
	fmt.Fprintf(&b, "Block %s (`%s`)\n\n", humanize.Comma(int64(res.BlockHeight)), res.BlockHash)
	switch {
	case len(res.Result) == 0:
		b.WriteString("The call returned no value.\n")
	case json.Valid(res.Result):
		b.WriteString("```json\n")
		b.Write(pretty.Pretty(res.Result))
		b.WriteString("```\n")
	case utf8.Valid(res.Result):
		b.WriteString("```\n")
		b.Write(res.Result)
		b.WriteString("\n```\n")
	default:
		fmt.Fprintf(&b, "Binary result (%s).\n", humanize.Bytes(uint64(len(res.Result))))
	}
	if len(res.Logs) > 0 {
		b.WriteString("\n## Logs\n\n")
		for _, l := range res.Logs {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	return b.String()
}

func formatContract(acct *near.Account, code *near.ContractCode, metadata json.RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Contract %s\n\n", code.ContractID)
	fmt.Fprintf(&b, "- **Code hash:** `%s`\n", code.Hash)
	fmt.Fprintf(&b, "- **Code size:** %s\n", humanize.Bytes(uint64(code.SizeBytes)))
	if acct != nil {
		fmt.Fprintf(&b, "- **Balance:** %s\n", FormatNEAR(acct.Amount))
		fmt.Fprintf(&b, "- **Storage used:** %s\n", humanize.IBytes(acct.StorageUsage))
	}
	fmt.Fprintf(&b, "- **As of block:** %s\n", humanize.Comma(int64(code.BlockHeight)))
	if len(metadata) > 0 {
		b.WriteString("\n## Source metadata\n\n```json\n")
		b.Write(pretty.Pretty(metadata))
		b.WriteString("```\n")
	}
	return b.String()
}

func formatBlock(blk *near.Block) string {
	h := blk.Header
	var b strings.Builder
	fmt.Fprintf(&b, "# Block %s\n\n", humanize.Comma(int64(h.Height)))
	fmt.Fprintf(&b, "- **Hash:** `%s`\n", h.Hash)
	fmt.Fprintf(&b, "- **Previous:** `%s`\n", h.PrevHash)
	fmt.Fprintf(&b, "- **Author:** %s\n", blk.Author)
	fmt.Fprintf(&b, "- **Time:** %s\n", formatNanos(h.Timestamp))
	fmt.Fprintf(&b, "- **Gas price:** %s yoctoNEAR\n", h.GasPrice)
	fmt.Fprintf(&b, "- **Epoch:** `%s`\n", h.EpochID)
	if len(blk.Chunks) > 0 {
		b.WriteString("\n| Shard | Chunk | Gas used | Gas limit |\n|---|---|---|---|\n")
		for _, c := range blk.Chunks {
			fmt.Fprintf(&b, "| %d | `%s` | %s | %s |\n", c.ShardID, c.ChunkHash,
				humanize.Comma(int64(c.GasUsed)), humanize.Comma(int64(c.GasLimit)))
		}
	}
	return b.String()
}

func formatBlocks(blocks []near.Block) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Latest %d block(s)\n\n", len(blocks))
	b.WriteString("| Height | Hash | Author | Time | Chunks |\n|---|---|---|---|---|\n")
	for _, blk := range blocks {
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %d |\n",
			humanize.Comma(int64(blk.Header.Height)), blk.Header.Hash, blk.Author,
			formatNanos(blk.Header.Timestamp), len(blk.Chunks))
	}
	return b.String()
}

func formatNetworkStatus(network near.Network, st *near.NetworkStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# NEAR %s status\n\n", network)
	fmt.Fprintf(&b, "- **Chain ID:** %s\n", st.ChainID)
	fmt.Fprintf(&b, "- **Protocol version:** %d\n", st.ProtocolVersion)
	fmt.Fprintf(&b, "- **Node version:** %s (%s)\n", st.Version.Version, st.Version.Build)
	fmt.Fprintf(&b, "- **Latest block:** %s (`%s`)\n", humanize.Comma(int64(st.SyncInfo.LatestBlockHeight)), st.SyncInfo.LatestBlockHash)
	fmt.Fprintf(&b, "- **Latest block time:** %s\n", st.SyncInfo.LatestBlockTime)
	fmt.Fprintf(&b, "- **Syncing:** %t\n", st.SyncInfo.Syncing)
	fmt.Fprintf(&b, "- **Validators:** %d\n", len(st.Validators))
	return b.String()
}

func formatGasPrice(gp *near.GasPrice) string {
	var b strings.Builder
	b.WriteString("# Gas price\n\n")
	fmt.Fprintf(&b, "- **Per gas unit:** %s yoctoNEAR\n", gp.GasPrice)
	if v, ok := new(big.Int).SetString(gp.GasPrice, 10); ok {
		// 1 Tgas is 10^12 gas units.
		perTgas := new(big.Int).Mul(v, big.NewInt(1_000_000_000_000))
		fmt.Fprintf(&b, "- **Per Tgas:** %s\n", FormatNEAR(perTgas.String()))
	}
	return b.String()
}

func formatValidators(v *near.Validators, limit int) string {
	current := v.CurrentValidators
	var b strings.Builder
	b.WriteString("# Validators\n\n")
	fmt.Fprintf(&b, "%d current validator(s); %d proposed for next epoch. Epoch started at block %s.\n\n",
		len(current), len(v.NextValidators), humanize.Comma(int64(v.EpochStartHeight)))
	if limit > 0 && len(current) > limit {
		current = current[:limit]
	}
	b.WriteString("| Validator | Stake | Produced/expected | Slashed |\n|---|---|---|---|\n")
	for _, val := range current {
		fmt.Fprintf(&b, "| %s | %s | %d/%d | %t |\n", val.AccountID, FormatNEAR(val.Stake),
			val.NumProducedBlocks, val.NumExpectedBlocks, val.IsSlashed)
	}
	return b.String()
}

func formatTx(tx *near.TxStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Transaction %s\n\n", tx.Transaction.Hash)
	status := "failed"
	if tx.Succeeded() {
		status = "success"
	}
	fmt.Fprintf(&b, "- **Status:** %s\n", status)
	fmt.Fprintf(&b, "- **Signer:** %s\n", tx.Transaction.SignerID)
	fmt.Fprintf(&b, "- **Receiver:** %s\n", tx.Transaction.ReceiverID)
	fmt.Fprintf(&b, "- **Nonce:** %d\n", tx.Transaction.Nonce)
	fmt.Fprintf(&b, "- **Actions:** %d\n", len(tx.Transaction.Actions))
	fmt.Fprintf(&b, "- **Gas burnt:** %s\n", humanize.Comma(int64(tx.TransactionOutcome.Outcome.GasBurnt)))
	fmt.Fprintf(&b, "- **Tokens burnt:** %s\n", FormatNEAR(tx.TransactionOutcome.Outcome.TokensBurnt))
	fmt.Fprintf(&b, "- **Receipts:** %d\n", len(tx.ReceiptsOutcome))
	fmt.Fprintf(&b, "- **Included in block:** `%s`\n", tx.TransactionOutcome.BlockHash)
	return b.String()
}
