package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/loykin/mcpgate/pkg/client"
	"github.com/spf13/cobra"
)

func newClient(flags *APIFlags) *client.Client {
	return client.New(client.Config{
		BaseURL: flags.URL,
		APIKey:  flags.Key,
		Timeout: flags.Timeout,
	})
}

func createServiceCommand(apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage services on a running daemon",
	}
	addAPIFlags(cmd, apiFlags)
	cmd.AddCommand(
		createServiceListCommand(apiFlags),
		createServiceStartCommand(apiFlags),
		createServiceStopCommand(apiFlags),
		createServiceRestartCommand(apiFlags),
		createServiceLogsCommand(apiFlags),
	)
	return cmd
}

func createServiceListCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List services and their runtime state",
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := newClient(apiFlags).ListServices(context.Background())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tPROXY PATH\tSTATE\tPID\tRESTARTS")
			for _, svc := range services {
				state, pid, restarts := "stopped", 0, 0
				if svc.Runtime != nil {
					state = svc.Runtime.State
					pid = svc.Runtime.PID
					restarts = svc.Runtime.Restarts
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
					svc.ID, svc.Name, svc.ProxyPath, state, pid, restarts)
			}
			return w.Flush()
		},
	}
}

func serviceLifecycleCommand(apiFlags *APIFlags, use, short string,
	op func(*client.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <service-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := op(newClient(apiFlags), context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", use, args[0])
			return nil
		},
	}
}

func createServiceStartCommand(apiFlags *APIFlags) *cobra.Command {
	return serviceLifecycleCommand(apiFlags, "start", "Start a service",
		func(c *client.Client, ctx context.Context, id string) error { return c.StartService(ctx, id) })
}

func createServiceStopCommand(apiFlags *APIFlags) *cobra.Command {
	return serviceLifecycleCommand(apiFlags, "stop", "Stop a service",
		func(c *client.Client, ctx context.Context, id string) error { return c.StopService(ctx, id) })
}

func createServiceRestartCommand(apiFlags *APIFlags) *cobra.Command {
	return serviceLifecycleCommand(apiFlags, "restart", "Restart a service",
		func(c *client.Client, ctx context.Context, id string) error { return c.RestartService(ctx, id) })
}

func createServiceLogsCommand(apiFlags *APIFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <service-id>",
		Short: "Show recent child output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := newClient(apiFlags).Logs(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Printf("%s [%s] %s\n", line.Time.Format("15:04:05.000"), line.Stream, line.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum lines to fetch")
	return cmd
}

func createKeyCommand(apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage management API keys",
	}
	addAPIFlags(cmd, apiFlags)
	cmd.AddCommand(
		createKeyCreateCommand(apiFlags),
		createKeyListCommand(apiFlags),
		createKeyRevokeCommand(apiFlags),
	)
	return cmd
}

func createKeyCreateCommand(apiFlags *APIFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create a new management API key. The plaintext secret is printed once
and cannot be recovered afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := newClient(apiFlags).CreateKey(context.Background(), name)
			if err != nil {
				return err
			}
			fmt.Printf("id:  %s\nkey: %s\n", created.ID, created.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createKeyListCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := newClient(apiFlags).ListKeys(context.Background())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tLAST USED")
			for _, key := range keys {
				lastUsed := "never"
				if key.LastUsed != nil {
					lastUsed = key.LastUsed.Format("2006-01-02 15:04:05")
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", key.ID, key.Name, key.Active, lastUsed)
			}
			return w.Flush()
		},
	}
}

func createKeyRevokeCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(apiFlags).RevokeKey(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("revoked: %s\n", args[0])
			return nil
		},
	}
}
