package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raskyld/agentlink/internal/logging"
)

var longHelp = strings.TrimSpace(`
Link simulated agents to a remote controller.

serve runs the simulation: one endpoint for scene-level control on the base
port and one endpoint per agent after it. drive connects to an agent and
plays a short scripted scenario, in lockstep or asynchronously.
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// newLogHandler builds the zerolog backed handler on stderr, with a level
// that can be changed later.
func newLogHandler(format, level string) (slog.Handler, *slog.LevelVar, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(lvl)
	h, err := logging.New(os.Stderr, format, lv)
	if err != nil {
		return nil, nil, err
	}
	return h, lv, nil
}

func main() {
	root := &cobra.Command{
		Use:           "agentlink",
		Short:         "Link simulated agents to a remote controller",
		Long:          longHelp,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newDriveCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		slog.Error("agentlink", "error", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentlink %s %s/%s %s\n", getVersion(), runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
