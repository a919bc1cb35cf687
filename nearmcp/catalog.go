// Package nearmcp declares the NEAR tools and resources served over MCP.
package nearmcp

import (
	"github.com/NEARWEEK/MCP/mcpservice"
	"github.com/NEARWEEK/MCP/near"
)

// Family names in precedence order.
const (
	FamilyAccount  = "account"
	FamilyContract = "contract"
	FamilyChain    = "chain"
)

// Catalog binds the NEAR capability handlers to a data client.
type Catalog struct {
	client  near.Client
	network near.Network
}

// New returns a Catalog backed by client.
func New(client near.Client, network near.Network) *Catalog {
	return &Catalog{client: client, network: network}
}

// Families returns the capability families in precedence order.
func (c *Catalog) Families() []mcpservice.Family {
	return []mcpservice.Family{
		{Name: FamilyAccount, Tools: c.accountTools(), Templates: c.accountTemplates()},
		{Name: FamilyContract, Tools: c.contractTools(), Templates: c.contractTemplates()},
		{Name: FamilyChain, Tools: c.chainTools(), Resources: c.chainResources()},
	}
}

// Registry builds the capability registry for the catalog.
func (c *Catalog) Registry() (*mcpservice.Registry, error) {
	return mcpservice.NewRegistry(c.Families()...)
}
