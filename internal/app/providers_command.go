package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hopwise/traderoute/internal/providers"
)

type providerModel struct {
	ID            string `json:"id"`
	Enabled       bool   `json:"enabled"`
	SignedMessage bool   `json:"signed_message"`
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List known providers and whether each is enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled := map[string]bool{}
			for _, pid := range s.registry.Enabled() {
				enabled[string(pid)] = true
			}
			models := make([]providerModel, 0, len(providers.All))
			for _, pid := range providers.All {
				models = append(models, providerModel{
					ID:            string(pid),
					Enabled:       enabled[string(pid)],
					SignedMessage: demoConfigs[pid].UsesSignedMessage,
				})
			}
			return s.emit(models, func(w *strings.Builder) {
				for _, m := range models {
					state := "disabled"
					if m.Enabled {
						state = "enabled"
					}
					flow := "on-chain"
					if m.SignedMessage {
						flow = "signed-message"
					}
					fmt.Fprintf(w, "%-10s %-8s %s\n", m.ID, state, flow)
				}
			})
		},
	}
	root.AddCommand(list)
	return root
}
