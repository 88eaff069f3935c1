package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"flatshare/internal/config"
	"flatshare/internal/persona"
	"flatshare/internal/store"
)

var (
	version    = "0.1.0"
	configPath string
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "flatshare",
		Short:         "flatshare: your AI housemates roast you",
		Long:          "flatshare simulates a shared flat of opinionated AI housemates who answer everything you say, remember it, and hold grudges.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.flatshare/config.json)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(telegramCmd())
	root.AddCommand(personasCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(snapshotCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the dotenv file and the config, falling back to defaults
// when no config file exists.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	return config.LoadOrDefault(resolveConfigPath())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to your housemates in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(resume)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "restore the last saved state before starting")
	return cmd
}

func telegramCmd() *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Run the flat as a Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTelegram(resume)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "restore the last saved state before starting")
	return cmd
}

func personasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the housemates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()
			cast, err := persona.Load(cfg.General.PersonasFile, logger)
			if err != nil {
				return err
			}
			for _, p := range cast {
				fmt.Printf("%-14s %-14s spice %d  mood %3d  %s\n", p.ID, p.Name, p.Spice, p.BaselineMood, p.PreferredStrategy)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the config, the store and the generators",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			fmt.Println("config:   ", resolveConfigPath())
			gen, err := newGenerator(cfg, logger)
			if err != nil {
				fmt.Println("generator: unavailable:", err)
			} else if err := gen.Healthy(ctx); err != nil {
				fmt.Printf("generator: %s (unhealthy: %v)\n", gen.Name(), err)
			} else {
				fmt.Printf("generator: %s (healthy)\n", gen.Name())
			}

			st, err := store.Open(ctx, cfg.Store, logger)
			switch {
			case err != nil:
				fmt.Println("store:     unavailable:", err)
			case st == nil:
				fmt.Println("store:     none")
			default:
				defer st.Close()
				turns, err := st.RecentTurns(ctx, cfg.Store.TranscriptLimit)
				if err != nil {
					return err
				}
				fmt.Printf("store:     %s, %d turns saved\n", cfg.Store.Driver, len(turns))
			}
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	var turns int
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the last saved state and transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()
			st, err := store.Open(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("no store configured (store.driver is %q)", cfg.Store.Driver)
			}
			defer st.Close()

			snap, err := st.LoadSnapshot(ctx)
			if err != nil {
				return err
			}
			transcript, err := st.RecentTurns(ctx, turns)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"state": snap, "turns": transcript})
		},
	}
	cmd.Flags().IntVarP(&turns, "turns", "n", 10, "number of recent turns to include")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. simulation.maxSpeakers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. generator.defaultProvider openai)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every config value, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(config.ListPaths(config.Sanitize(cfg)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})
	return cmd
}
