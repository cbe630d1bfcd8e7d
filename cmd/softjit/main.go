// softjit drives the x86 register allocator from JavaScript scripts or an
// interactive console and disassembles what it emits.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/colorfulnotion/softjit/console"
	log "github.com/colorfulnotion/softjit/log"
	"github.com/colorfulnotion/softjit/regalloc"
	"github.com/colorfulnotion/softjit/x86"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "softjit",
		Short: "Online register allocator for 32-bit x86 code generation",
		Long: `softjit exposes the register allocator and move encoder to JavaScript.
Scripts call jit.r32(addr), jit.spillAll() and friends; every call emits its
loads and stores immediately, and the resulting code can be listed.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	var (
		logLevel     string
		debugModules string
		realDisp     int32
		showEvents   bool
		historyFile  string
	)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debugModules, "debug", "", "Comma separated log modules to enable (regalloc_mod, emit_mod, console_mod)")
	rootCmd.PersistentFlags().Int32Var(&realDisp, "real-displacement", regalloc.DefaultRealDisplacement, "Smallest absolute address treated as real memory")
	rootCmd.PersistentFlags().BoolVar(&showEvents, "events", false, "Print allocation events as JSON lines after the run")

	setup := func() (*console.Console, error) {
		if err := log.InitLogger(logLevel); err != nil {
			return nil, err
		}
		log.EnableModules(debugModules)
		log.RecordEvents(showEvents)
		return console.New(regalloc.Config{RealDisplacement: realDisp}, os.Stdout)
	}
	dumpEvents := func() error {
		if !showEvents {
			return nil
		}
		b, err := log.RecordedEventsJSON()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	}

	var runCmd = &cobra.Command{
		Use:   "run <script.js>",
		Short: "Run a script and print the emitted code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := setup()
			if err != nil {
				return err
			}
			if _, err := c.Run(string(src)); err != nil {
				log.Error(log.ConsoleMonitoring, "script failed", "file", args[0], "err", err)
				return err
			}
			fmt.Print(c.Assembler().Listing())
			fmt.Println(c.Allocator().Tree())
			return dumpEvents()
		},
	}

	var consoleCmd = &cobra.Command{
		Use:   "console",
		Short: "Start an interactive JavaScript console",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			if err := c.Interactive(historyFile); err != nil {
				return err
			}
			return dumpEvents()
		},
	}
	consoleCmd.Flags().StringVar(&historyFile, "history", filepath.Join(os.TempDir(), "softjit_console_history.txt"), "Readline history file")

	var disasmCmd = &cobra.Command{
		Use:   "disasm <hex>",
		Short: "Disassemble 32-bit code given as hex",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := hex.DecodeString(strings.ReplaceAll(strings.Join(args, ""), " ", ""))
			if err != nil {
				return fmt.Errorf("bad hex: %w", err)
			}
			fmt.Print(x86.Disassemble(code))
			return nil
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("softjit %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(runCmd, consoleCmd, disasmCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
