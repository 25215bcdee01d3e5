/*
Copyright (C) 2026  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command fuseflowctl is the interactive shell for exercising the
// runtime against the in-process demo engine: submit fake tasks and
// copies, flush the window, inspect fusion/field-reuse telemetry, and
// export a trace. Grounded on the teacher's scm/prompt.go REPL and
// main.go's bootstrap (banner, builtin registration, then hand off to
// the REPL).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/chzyer/readline"

	"github.com/launix-de/fuseflow/config"
	"github.com/launix-de/fuseflow/engine"
	"github.com/launix-de/fuseflow/runtime"
	"github.com/launix-de/fuseflow/telemetry"
)

const banner = `fuseflowctl -- interactive scheduling-window shell
Copyright (C) 2026  MemCP Contributors, licensed GPLv3
type "help" for a command list, "exit" to quit
`

var float64DType = engine.DType{Name: "float64", Size: 8}

// cephCommands holds the extra commands ceph.go registers under
// "-tags ceph"; empty (and unreferenced from a plain build's
// perspective) otherwise.
var cephCommands = map[string]func(*shell, []string){}

func main() {
	cfg := config.Default()
	cfg.WindowSize = 4
	cfg.NumPieces = 4

	var tracePath string
	var monitorAddr string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-window":
			i++
			n, _ := strconv.Atoi(args[i])
			cfg.WindowSize = uint32(n)
		case "-pieces":
			i++
			n, _ := strconv.Atoi(args[i])
			cfg.NumPieces = int32(n)
		case "-trace":
			i++
			tracePath = args[i]
		case "-monitor":
			i++
			monitorAddr = args[i]
		}
	}

	if tracePath != "" {
		if err := telemetry.SetTrace(true, tracePath); err != nil {
			fmt.Fprintln(os.Stderr, "fuseflowctl: could not open trace file:", err)
			os.Exit(1)
		}
	}

	backend := newDemoBackend()
	ctx := backend.TaskPreamble()
	rt, err := runtime.NewRuntime(cfg, backend, ctx, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fuseflowctl: could not start runtime:", err)
		os.Exit(1)
	}
	rt.AllowTaskKind(1, false) // "fill" is fusable
	rt.AllowTaskKind(2, false) // "binop" is fusable

	sh := newShell(rt, backend)

	if monitorAddr != "" {
		if err := sh.startMonitor(monitorAddr); err != nil {
			fmt.Fprintln(os.Stderr, "fuseflowctl: monitor:", err)
		} else {
			fmt.Println("monitor listening on", monitorAddr, "(GET /stats, GET /ws)")
		}
	}

	if watcher, err := sh.watchTunables(); err == nil {
		defer watcher.Close()
	}

	fmt.Print(banner)
	sh.repl()
	rt.Destroy()
}

// shell holds the REPL's live state: the runtime under test, the
// demo backend (for the backend counters "stats" prints), and the named
// stores created so far.
type shell struct {
	rt      *runtime.Runtime
	backend *demoBackend
	stores  map[string]*demoStore
}

func newShell(rt *runtime.Runtime, backend *demoBackend) *shell {
	return &shell{rt: rt, backend: backend, stores: make(map[string]*demoStore)}
}

// repl mirrors scm/prompt.go's Repl: a readline-backed loop with a
// colored prompt that runs each non-empty line as one command, with a
// per-line recover() so a bad command never takes the shell down.
func (sh *shell) repl() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[32mfuseflow>\033[0m ",
		HistoryFile:       ".fuseflowctl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		sh.replFallback()
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sh.dispatch(line) {
			return
		}
	}
}

// replFallback drives the same command loop over plain stdin, for a
// terminal readline cannot attach to (piped input, a dumb terminal).
func (sh *shell) replFallback() {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("fuseflow> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if sh.dispatch(line) {
			return
		}
	}
}

// dispatch runs one command line, recovering from a panic the way
// scm/prompt.go's evaluator guards against a malformed expression
// aborting the whole session. Returns true if the shell should exit.
func (sh *shell) dispatch(line string) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("error:", r)
		}
	}()

	fields := strings.Fields(line)
	cmd := fields[0]
	rest := fields[1:]

	switch cmd {
	case "exit", "quit":
		return true
	case "help":
		sh.printHelp()
	case "store":
		sh.cmdStore(rest)
	case "fill":
		sh.cmdFill(rest)
	case "binop":
		sh.cmdBinop(rest)
	case "copy":
		sh.cmdCopy(rest)
	case "flush":
		if err := sh.rt.Flush(); err != nil {
			fmt.Println("flush error:", err)
		} else {
			fmt.Println("flushed")
		}
	case "window":
		fmt.Println("window length:", sh.rt.WindowLen())
	case "stats":
		sh.cmdStats()
	case "attach-s3":
		sh.cmdAttachS3(rest)
	case "export-lz4", "export-xz":
		sh.cmdExportTrace(cmd, rest)
	default:
		if fn, ok := cephCommands[cmd]; ok {
			fn(sh, rest)
			return false
		}
		fmt.Println("unknown command:", cmd, "(try 'help')")
	}
	return false
}

func (sh *shell) printHelp() {
	fmt.Println(`commands:
  store <name> <dim> [dim...]   create a named demo store
  fill <store>                  submit a fill task writing <store>
  binop <dst> <a> <b>           submit an aligned two-input task
  copy <dst> <src>              submit a region copy
  flush                         drain the scheduling window
  window                        print the current window length
  stats                         print telemetry counters
  attach-s3 <bucket> <key>      head an S3 object and attach it
  export-lz4 <trace> <out>      lz4-compress a finished trace file
  export-xz <trace> <out>       xz-compress a finished trace file
  exit                          leave the shell`)
}

func (sh *shell) cmdStore(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: store <name> <dim> [dim...]")
		return
	}
	dims := make([]int64, 0, len(args)-1)
	for _, a := range args[1:] {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			fmt.Println("bad dimension:", a)
			return
		}
		dims = append(dims, n)
	}
	s := newDemoStore(args[0], dims, float64DType)
	sh.stores[args[0]] = s
	fmt.Println("created", s)
}

func (sh *shell) lookup(name string) (*demoStore, bool) {
	s, ok := sh.stores[name]
	if !ok {
		fmt.Println("no such store:", name)
	}
	return s, ok
}

// cmdFill submits a task-id-1 op writing one store, no inputs --
// the degenerate case that always partitions cleanly.
func (sh *shell) cmdFill(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: fill <store>")
		return
	}
	s, ok := sh.lookup(args[0])
	if !ok {
		return
	}
	t := runtime.NewTask(1)
	t.AddOutput(s)
	t.AddScalarArg(3.14, float64DType)
	if err := sh.rt.Submit(t); err != nil {
		fmt.Println("submit error:", err)
		return
	}
	fmt.Println("submitted fill(", args[0], ")")
}

// cmdBinop submits a task-id-2 op reading two aligned inputs and
// writing a third store, the shape the FusionChecker's
// IdenticalProjection/ValidProducerConsumer constraints exist to vet.
func (sh *shell) cmdBinop(args []string) {
	if len(args) != 3 {
		fmt.Println("usage: binop <dst> <a> <b>")
		return
	}
	dst, ok := sh.lookup(args[0])
	if !ok {
		return
	}
	a, ok := sh.lookup(args[1])
	if !ok {
		return
	}
	b, ok := sh.lookup(args[2])
	if !ok {
		return
	}
	t := runtime.NewTask(2)
	t.AddInput(a)
	t.AddInput(b)
	t.AddOutput(dst)
	if err := t.AddAlignment(a, b); err != nil {
		fmt.Println("align error:", err)
		return
	}
	if err := t.AddAlignment(a, dst); err != nil {
		fmt.Println("align error:", err)
		return
	}
	if err := sh.rt.Submit(t); err != nil {
		fmt.Println("submit error:", err)
		return
	}
	fmt.Println("submitted binop(", args[0], "=", args[1], "+", args[2], ")")
}

func (sh *shell) cmdCopy(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: copy <dst> <src>")
		return
	}
	dst, ok := sh.lookup(args[0])
	if !ok {
		return
	}
	src, ok := sh.lookup(args[1])
	if !ok {
		return
	}
	c := runtime.NewCopy()
	c.AddInput(src)
	c.AddOutput(dst)
	if err := sh.rt.Submit(c); err != nil {
		fmt.Println("submit error:", err)
		return
	}
	fmt.Println("submitted copy(", args[0], "<-", args[1], ")")
}

func (sh *shell) cmdStats() {
	snap := telemetry.Snap()
	fmt.Printf("window drains:     %d\n", snap.WindowDrains)
	fmt.Printf("ops dispatched:    %d\n", snap.OpsDispatched)
	fmt.Printf("fusions built:     %d\n", snap.FusionsBuilt)
	fmt.Printf("fusions skipped:   %d\n", snap.FusionsSkipped)
	fmt.Printf("field reuse hits:  %d\n", snap.FieldReuseHits)
	fmt.Printf("field reuse miss:  %d\n", snap.FieldReuseMiss)
	fmt.Printf("attachments live:  %d\n", snap.AttachmentsLive)
	fmt.Printf("stores created:    %d\n", len(sh.stores))
	fmt.Printf("backend tasks:     %d\n", atomic.LoadInt64(&sh.backend.tasksDispatched))
	fmt.Printf("backend copies:    %d\n", atomic.LoadInt64(&sh.backend.copiesDispatched))
}
