package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/userconfig"
)

var (
	rootFlag    string
	jsonFlag    bool
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
	traceFlag   bool
)

// userCfg holds the loaded per-user defaults; flags override it.
var userCfg userconfig.Config

// globalCtx is the application-level context that is canceled on
// SIGINT/SIGTERM. Commands use it for fetch and extraction.
var globalCtx context.Context
var globalCancel context.CancelFunc

var rootCmd = &cobra.Command{
	Use:   "nah",
	Short: "Install and launch native apps against versioned app kits",
	Long: `nah manages a host directory of native apps (NAPs) and the app kits
(NAKs) they link against. Installing materializes packages into the
NAH root; running an app composes a fully resolved launch contract
(binary, arguments, environment, library path) and executes it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "NAH root directory (default from config or $NAH_ROOT)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Emit structured JSON output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output (INFO level)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "Attach the composition decision log")

	rootCmd.PersistentPreRun = initLogger
	rootCmd.Version = buildVersion()
	rootCmd.SetVersionTemplate(versionTemplate())

	var err error
	userCfg, err = userconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(nakCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived %s, canceling operation...\n", sig)
		globalCancel()

		<-sigChan
		fmt.Fprintln(os.Stderr, "Forced exit")
		exitWithCode(ExitGeneral)
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitUsage)
	}
}

// initLogger configures the global logger from the verbosity flags.
func initLogger(cmd *cobra.Command, args []string) {
	level := determineLogLevel()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log.SetDefault(log.New(handler))
}

// determineLogLevel maps flags and environment to a level.
// Priority: flags > environment variables > default (WARN).
func determineLogLevel() slog.Level {
	if debugFlag {
		return slog.LevelDebug
	}
	if verboseFlag {
		return slog.LevelInfo
	}
	if quietFlag {
		return slog.LevelError
	}
	if isTruthy(os.Getenv("NAH_DEBUG")) {
		return slog.LevelDebug
	}
	if isTruthy(os.Getenv("NAH_VERBOSE")) {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func isTruthy(s string) bool {
	s = strings.ToLower(s)
	return s == "1" || s == "true" || s == "yes" || s == "on"
}
