package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/acp"
	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/pty"
	"github.com/ehrlich-b/perch/internal/server"
	"github.com/ehrlich-b/perch/internal/skill"
	"github.com/ehrlich-b/perch/internal/store"
)

func serveCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addrFlag != "" {
				cfg.Addr = addrFlag
			}
			if err := cfg.EnsureDirs(); err != nil {
				return fmt.Errorf("ensure data dirs: %w", err)
			}
			if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer st.Close()

			skills := skill.NewRegistry(cfg.SkillsDir)
			if err := skills.Scan(); err != nil {
				logger.Warn("skill scan failed", "error", err)
			}
			if err := skills.Watch(); err != nil {
				logger.Warn("skill watch failed", "error", err)
			}
			defer skills.Close()

			ptys := pty.NewManager()
			defer ptys.CloseAll()

			srv := server.New(&acp.Bridge{}, ptys, st, skills)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info("shutting down")
				srv.Close()
			}()

			return srv.Start(cfg.Addr)
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default from config)")
	return cmd
}
