package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	oshdb "github.com/GIScience/oshdb-sub001"
	"github.com/GIScience/oshdb-sub001/backend"
	"github.com/ergochat/readline"
)

// REPL per se.
type REPL struct {
	Engine  *Engine
	backend backend.Backend
	opts    oshdb.Options
	out     io.Writer
	rl      *readline.Instance
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("load"),
	readline.PcItem("backend"),
	readline.PcItem("range"),
	readline.PcItem("bbox"),
	readline.PcItem("types"),
	readline.PcItem("timeout"),
	readline.PcItem("interval"),
	readline.PcItem("at"),

	readline.PcItem("count"),
	readline.PcItem("snapshots"),
	readline.PcItem("kinds"),
	readline.PcItem("compare"),
	readline.PcItem("cell"),

	readline.PcItem("stats"),
	readline.PcItem("purge"),
	readline.PcItem("metrics"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func NewREPL(e *Engine, out io.Writer) (*REPL, error) {
	b, err := e.Backend(e.cfg.Backend)
	if err != nil {
		return nil, err
	}
	return &REPL{
		Engine:  e,
		backend: b,
		opts:    oshdb.Options{Timeout: e.cfg.Timeout, Log: e.log},
		out:     out,
	}, nil
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "▦ ",
		HistoryFile:     ".oshdb_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// REPL reads and runs one line.
func (repl *REPL) REPL(ctx context.Context) error {
	line, err := repl.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}
	return repl.Execute(ctx, line)
}

// Execute runs one command line.
func (repl *REPL) Execute(ctx context.Context, line string) (err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		err = repl.CommandHelp(args)
	// ----- data and query setup -----
	case "load":
		err = repl.CommandLoad(ctx, args)
	case "backend":
		err = repl.CommandBackend(args)
	case "range":
		err = repl.CommandRange(args)
	case "bbox":
		err = repl.CommandBBox(args)
	case "types":
		err = repl.CommandTypes(args)
	case "timeout":
		err = repl.CommandTimeout(args)
	case "interval":
		err = repl.CommandInterval(args)
	case "at":
		err = repl.CommandAt(args)
	// ----- queries -----
	case "count":
		err = repl.CommandCount(ctx, args)
	case "snapshots":
		err = repl.CommandSnapshots(ctx, args)
	case "kinds":
		err = repl.CommandKinds(ctx, args)
	case "compare":
		err = repl.CommandCompare(ctx, args)
	case "cell":
		err = repl.CommandCell(ctx, args)
	// ----- debug -----
	case "stats":
		err = repl.CommandStats(args)
	case "purge":
		err = repl.CommandPurge(args)
	case "metrics":
		err = repl.CommandMetrics(args)
	case "exit", "quit":
		err = io.EOF
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return
}

func (repl *REPL) Loop(ctx context.Context) error {
	if err := repl.Open(); err != nil {
		return err
	}
	var err error
	for err != io.EOF {
		if err != nil {
			_, _ = fmt.Fprintf(repl.out, "%s\n", err.Error())
		}
		err = repl.REPL(ctx)
	}
	return repl.Close()
}
