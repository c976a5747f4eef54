package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"github.com/spf13/cobra"
)

func newTenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Inspect the tenant configuration",
	}
	var timeout time.Duration
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the tenant document and probe each tenant's database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			reg, err := tenancy.Open(cfg.Tenancy)
			if err != nil {
				return fmt.Errorf("open tenants: %w", err)
			}
			defer reg.Close(context.Background())
			return checkTenants(cmd.Context(), cmd.OutOrStdout(), reg, timeout)
		},
	}
	check.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-tenant probe timeout")
	cmd.AddCommand(check)
	return cmd
}

// checkTenants pings every tenant and loads its permission mapping. It
// fails if any tenant is unreachable.
func checkTenants(ctx context.Context, out io.Writer, reg *tenancy.Registry, timeout time.Duration) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLUG\tGUILD\tBOT\tLEVELS\tSTATUS")
	tenants := reg.All()
	failed := 0
	for _, t := range tenants {
		levels, err := probeTenant(ctx, t, timeout)
		status := "ok"
		if err != nil {
			failed++
			status = err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", t.ID(), t.Slug(), t.GuildID(), t.BotID(), levels, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tenant(s) failed", failed, len(tenants))
	}
	return nil
}

// probeTenant returns how many permission levels the tenant's bot maps.
func probeTenant(ctx context.Context, t *tenancy.Tenant, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := t.Ping(ctx); err != nil {
		return 0, fmt.Errorf("unreachable: %w", err)
	}
	m, err := permissions.LoadMapping(ctx, t.Database(), t.BotID())
	if err != nil {
		return 0, fmt.Errorf("permissions: %w", err)
	}
	return len(m), nil
}
