// Package mcpservice holds the transport-independent capability layer: the
// Registry that catalogs tools, static resources and resource templates in
// family order, and the Dispatcher that executes them.
//
// Both the session transport and the stateless JSON-RPC facade route
// capability methods through Dispatcher.Handle, so a tool or resource behaves
// identically no matter how a client reaches it.
//
// Typed tools:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"minLength=1"`
//	}
//	echo := mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText(r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back"),
//	)
//	reg, err := mcpservice.NewRegistry(mcpservice.Family{Name: "demo", Tools: []mcpservice.Tool{echo}})
//
// Arguments are decoded strictly: missing required fields, unknown fields
// and a failing Validate method all yield invalid-params errors before the
// handler runs.
package mcpservice
