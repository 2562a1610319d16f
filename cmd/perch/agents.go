package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/acp"
	"github.com/ehrlich-b/perch/internal/config"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage ACP agent installations",
	}
	cmd.AddCommand(agentsListCmd(), agentsInstallCmd(), agentsUninstallCmd())
	return cmd
}

func buildInstaller() (*acp.Installer, *acp.RegistryClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("ensure data dirs: %w", err)
	}

	paths := acp.NewPaths(cfg.AgentsDir())
	state := acp.NewStateStore(paths)
	if err := state.Load(); err != nil {
		return nil, nil, fmt.Errorf("load install state: %w", err)
	}
	installer := acp.NewInstaller(paths, acp.NewBinaryManager(paths), state)
	client := acp.NewRegistryClient(cfg.RegistryURL, paths)
	return installer, client, nil
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registry agents and their install status",
		RunE: func(cmd *cobra.Command, args []string) error {
			installer, client, err := buildInstaller()
			if err != nil {
				return err
			}

			reg, err := client.Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch registry: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tDIST\tSTATUS")
			for i := range reg.Agents {
				entry := &reg.Agents[i]
				status := "-"
				if v, ok := installer.State().InstalledVersion(entry.ID); ok {
					status = "installed " + v
					if installer.State().HasUpdate(entry.ID, entry.Version) {
						status += " (update available)"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", entry.ID, entry.Name, entry.Version, entry.DistType(), status)
			}
			return w.Flush()
		},
	}
}

func agentsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <agent-id>",
		Short: "Install an agent from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			installer, client, err := buildInstaller()
			if err != nil {
				return err
			}

			reg, err := client.Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch registry: %w", err)
			}
			entry, ok := reg.Entry(args[0])
			if !ok {
				return fmt.Errorf("agent not in registry: %s", args[0])
			}

			info, err := installer.Install(cmd.Context(), entry)
			if err != nil {
				return fmt.Errorf("install %s: %w", entry.ID, err)
			}
			if info.BinaryPath != "" {
				fmt.Printf("installed %s %s at %s\n", info.AgentID, info.Version, info.BinaryPath)
			} else {
				fmt.Printf("installed %s %s (package %s)\n", info.AgentID, info.Version, info.Package)
			}
			return nil
		},
	}
}

func agentsUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <agent-id>",
		Short: "Remove an installed agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			installer, _, err := buildInstaller()
			if err != nil {
				return err
			}
			if err := installer.Uninstall(args[0]); err != nil {
				return fmt.Errorf("uninstall %s: %w", args[0], err)
			}
			fmt.Printf("uninstalled %s\n", args[0])
			return nil
		},
	}
}
