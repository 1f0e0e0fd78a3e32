package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants and their configuration",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <tenant-id> [key=value...]",
	Short: "Create a tenant, merging the given settings over the defaults",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := parsePairs(args[1:])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), false, func(a *app) error {
			t, err := a.tenants.CreateTenant(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			return printOutput(t)
		})
	},
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete <tenant-id>",
	Short: "Delete a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			return a.tenants.DeleteTenant(cmd.Context(), args[0])
		})
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenant ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			ids, err := a.tenants.ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			return printOutput(ids)
		})
	},
}

var tenantConfigCmd = &cobra.Command{
	Use:   "config <tenant-id> [key=value...]",
	Short: "Show a tenant configuration, merging the given settings into it first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := parsePairs(args[1:])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), false, func(a *app) error {
			if len(updates) > 0 {
				if err := a.tenants.SetTenantConfig(cmd.Context(), args[0], updates); err != nil {
					return err
				}
			}
			cfg, err := a.tenants.TenantConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutput(cfg)
		})
	},
}

func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[k] = v
	}
	return out, nil
}

func init() {
	tenantCmd.AddCommand(tenantCreateCmd, tenantDeleteCmd, tenantListCmd, tenantConfigCmd)
}
