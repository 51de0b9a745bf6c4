// Package register wires the domain tool packages (gmail, gtasks, kb) into
// a single registry for a domain. It exists separately from internal/tools
// itself to avoid an import cycle: each domain package imports
// internal/tools for the Tool type, so the aggregator must live outside it.
package register

import (
	"warden/internal/tools"
	"warden/internal/tools/gmail"
	"warden/internal/tools/gtasks"
	"warden/internal/tools/kb"
)

// Clients bundles the optional per-domain integrations available when
// building a chat tool-loop registry. A nil field means that integration is
// not connected for this domain and its tools are simply not registered.
type Clients struct {
	Gmail  gmail.Client
	GTasks gtasks.Client
	KB     kb.Searcher
}

// ForDomain builds a registry containing only the tools whose backing
// client is present in clients.
func ForDomain(registry *tools.Registry, domainID string, clients Clients) error {
	if clients.Gmail != nil {
		if err := gmail.RegisterAll(registry, clients.Gmail); err != nil {
			return err
		}
	}
	if clients.GTasks != nil {
		if err := gtasks.RegisterAll(registry, clients.GTasks); err != nil {
			return err
		}
	}
	if clients.KB != nil {
		if err := kb.RegisterAll(registry, clients.KB, domainID); err != nil {
			return err
		}
	}
	return nil
}
