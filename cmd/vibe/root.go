package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	vibedebug "github.com/rhuss/vibe/pkg/debug"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	debugCats  string
)

var rootCmd = &cobra.Command{
	Use:   "vibe",
	Short: "Turn prompts into runnable web projects",
	Long: `vibe asks a language model to edit a project's files, merges the answer
into the project, and previews the result in a sandbox. When no sandbox is
available the project is rendered as a single self-contained HTML document.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		vibedebug.Init(debugCats, logLevel, logFormat)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $VIBE_CONFIG, ./config.yaml, /etc/vibe/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level: ERROR, WARN, INFO, DEBUG, TRACE")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&debugCats, "debug", "", "Comma-separated debug categories")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "vibe (unknown)"
	}
	version := info.Main.Version
	if version == "" {
		version = "(devel)"
	}
	var revision string
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			revision = s.Value[:12]
		}
	}
	if revision != "" {
		return fmt.Sprintf("vibe %s (%s, %s)", version, revision, info.GoVersion)
	}
	return fmt.Sprintf("vibe %s (%s)", version, info.GoVersion)
}
