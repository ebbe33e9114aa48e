// minic - the Minis compiler, linker, and inspection tool
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// pathList is a repeatable flag collecting directories.
type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	var cfg config
	flag.StringVar(&cfg.output, "o", "", "Output module path (default: manifest output, or source with .avo extension)")
	flag.StringVar(&cfg.report, "report", "", "Write the CBOR link report to this path")
	flag.Var(&cfg.modulePaths, "I", "Add a module search directory (repeatable)")
	flag.Var(&cfg.pluginPaths, "P", "Add a plugin manifest directory (repeatable)")
	flag.BoolVar(&cfg.allowSelfRef, "allow-self-ref", false, "Let `let x = x` refer to the x being declared")
	flag.IntVar(&cfg.maxSteps, "steps", 0, "Instruction limit for run (0 = unlimited)")
	flag.BoolVar(&cfg.trace, "trace", false, "Trace every executed instruction (run)")
	verbosity := flag.Int("v", 0, "Log verbosity (0 = warnings, 1 = info, 2 = debug)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: minic [options] <command> [file]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  build [file.mi]    Compile and link to an AVOCADO1 module\n")
		fmt.Fprintf(os.Stderr, "  disasm <file>      Disassemble a module (or compile a .mi and disassemble it)\n")
		fmt.Fprintf(os.Stderr, "  run <file>         Execute a module on the reference interpreter\n")
		fmt.Fprintf(os.Stderr, "  lsp                Start the language server on stdio\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  minic build                    # Build the entry named in minis.toml\n")
		fmt.Fprintf(os.Stderr, "  minic -o out.avo build main.mi # Build one file\n")
		fmt.Fprintf(os.Stderr, "  minic -I lib run main.mi       # Compile in memory and run\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := args[0], args[1:]
	if len(args) > 0 {
		cfg.source = args[0]
	}

	var err error
	switch cmd {
	case "build":
		err = runBuild(&cfg, os.Stderr)
	case "disasm":
		err = runDisasm(&cfg, os.Stdout, os.Stderr)
	case "run":
		err = runProgram(&cfg, os.Stdin, os.Stdout, os.Stderr)
	case "lsp":
		err = runLSP(&cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
