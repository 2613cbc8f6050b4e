package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d0labs/aof/internal/tools"
)

// Version is the CLI's reported version, overridable at build time via
// -ldflags "-X main.Version=...".
var Version = "dev"

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "aof",
		Short: "Agentic Ops Fabric — filesystem-backed multi-agent task orchestrator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to aof.yaml (defaults to ./aof.yaml or $HOME/aof.yaml)")

	cobra.OnInitialize(func() {
		viper.SetConfigName("aof")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		if configPath != "" {
			viper.SetConfigFile(configPath)
		}
		_ = viper.ReadInConfig() // absence is fine; internal/config supplies its own defaults
		if configPath == "" {
			configPath = viper.ConfigFileUsed()
		}
	})

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newLintCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the aof version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aof %s\n", Version)
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		line, exitCode := tools.Render(tools.Envelope{}, err)
		fmt.Fprintln(os.Stderr, line)
		os.Exit(exitCode)
	}
}
