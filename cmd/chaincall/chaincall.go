// Program chaincall is a command-line utility for inspecting chain-call
// values and exercising chain-call nodes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/chaincall"
	"github.com/creachadair/chaincall/codec"
	"github.com/creachadair/chaincall/mesh"
	"github.com/creachadair/chaincall/opchain"
	"github.com/creachadair/chaincall/store"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
)

var demoFlags struct {
	Store   string        `flag:"store,Directory for the pending-call store (empty: in-memory)"`
	Timeout time.Duration `flag:"timeout,default=5s,Timeout for the demo call"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for inspecting chain-call values and nodes.",
		Commands: []*command.C{
			{
				Name:  "chain",
				Usage: "<expr>",
				Help: `Parse a chain expression and print its operations as JSON.

The expression is a dotted path with optional call arguments, e.g.

  users.find(5).name

Arguments are parsed as JSON values.`,
				Run: func(env *command.Env) error {
					if len(env.Args) != 1 {
						return env.Usagef("required: chain expression")
					}
					chain, err := parseChain(env.Args[0])
					if err != nil {
						return err
					}
					data, err := json.MarshalIndent(chain, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(data))
					return nil
				},
			},
			{
				Name:  "encode",
				Usage: "<json-value>",
				Help:  "Encode a JSON value as serialization records.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 1 {
						return env.Usagef("required: JSON value")
					}
					var v any
					if err := json.Unmarshal([]byte(env.Args[0]), &v); err != nil {
						return fmt.Errorf("invalid value: %w", err)
					}
					recs, err := codec.Serialize(v)
					if err != nil {
						return err
					}
					data, err := json.Marshal(recs)
					if err != nil {
						return err
					}
					fmt.Println(string(data))
					return nil
				},
			},
			{
				Name:  "decode",
				Usage: "[path]",
				Help:  "Decode serialization records from a file, or stdin if no path is given.",
				Run: func(env *command.Env) error {
					var data []byte
					var err error
					if len(env.Args) == 0 {
						data, err = io.ReadAll(os.Stdin)
					} else {
						data, err = os.ReadFile(env.Args[0])
					}
					if err != nil {
						return err
					}
					var recs codec.Records
					if err := json.Unmarshal(data, &recs); err != nil {
						return fmt.Errorf("invalid records: %w", err)
					}
					v, err := codec.Deserialize(recs)
					if err != nil {
						return err
					}
					fmt.Printf("%+v\n", v)
					return nil
				},
			},
			{
				Name: "demo",
				Help: `Run a two-node demo call over an in-process mesh.

Node alpha calls the calculator bound on node beta, and a continuation
on alpha reports the result.`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &demoFlags) },
				Run: func(env *command.Env) error {
					return runDemo(env.Context())
				},
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// parseChain parses a dotted chain expression such as "a.b(1,2).c" into
// an operation chain. Call arguments are JSON values.
func parseChain(expr string) (opchain.Chain, error) {
	b := opchain.New()
	for len(expr) != 0 {
		name, rest, _ := cutAny(expr, ".(")
		if name == "" {
			return nil, fmt.Errorf("empty chain key in %q", expr)
		}
		b = b.Get(name)
		expr = rest
		if !strings.HasPrefix(expr, "(") {
			expr = strings.TrimPrefix(expr, ".")
			continue
		}
		argText, ok := cutParen(expr[1:])
		if !ok {
			return nil, fmt.Errorf("missing close parenthesis in %q", expr)
		}
		args, err := parseArgs(argText)
		if err != nil {
			return nil, err
		}
		b = b.Call(args...)
		expr = strings.TrimPrefix(expr[len(argText)+2:], ".")
	}
	return b.Chain(), nil
}

func parseArgs(text string) ([]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	// Wrap the argument list in brackets so it parses as a JSON array.
	var args []any
	if err := json.Unmarshal([]byte("["+text+"]"), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments %q: %w", text, err)
	}
	return args, nil
}

// cutAny splits s at the first occurrence of any byte in seps, keeping
// the separator at the head of the remainder.
func cutAny(s, seps string) (head, rest string, found bool) {
	if i := strings.IndexAny(s, seps); i >= 0 {
		return s[:i], s[i:], true
	}
	return s, "", false
}

// cutParen returns the prefix of s up to the parenthesis matching an
// already-consumed open parenthesis.
func cutParen(s string) (string, bool) {
	d := 1
	for i, c := range s {
		if c == '(' {
			d++
		} else if c == ')' {
			d--
			if d == 0 {
				return s[:i], true
			}
		}
	}
	return s, false
}

// demoCalc is the calculator service bound on the demo's remote node.
type demoCalc struct{}

func (demoCalc) Add(vs ...float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum
}

func (demoCalc) Mul(a, b float64) float64 { return a * b }

// demoApp receives the continuation on the demo's origin node.
type demoApp struct{ done chan any }

func (a demoApp) OnResult(v any) { a.done <- v }

func runDemo(ctx context.Context) error {
	newStore := func() (store.Store, error) {
		if demoFlags.Store == "" {
			return store.NewMem(), nil
		}
		return store.OpenBadger(demoFlags.Store)
	}
	sa, err := newStore()
	if err != nil {
		return err
	}
	defer sa.Close()

	app := demoApp{done: make(chan any, 1)}
	loc := mesh.NewLocal(chaincall.Options{
		ID:    "alpha",
		Store: sa,
		Bindings: map[string]chaincall.Binding{
			"app": chaincall.StaticBinding(app),
		},
		DefaultTimeout: demoFlags.Timeout,
	}, chaincall.Options{
		ID:    "beta",
		Store: store.NewMem(),
		Bindings: map[string]chaincall.Binding{
			"calc": chaincall.StaticBinding(demoCalc{}),
		},
	})
	defer loc.Stop()

	id, err := loc.A.Call(ctx, chaincall.CallSpec{
		Target:        "beta",
		TargetBinding: "calc",
		Chain:         opchain.New().Get("Mul").Call(6, 7),
		Continuation:  opchain.New().Get("OnResult").Call(opchain.Result()),
		OriginBinding: "app",
	})
	if err != nil {
		return err
	}
	fmt.Printf("call enqueued: op=%s\n", id)

	select {
	case v := <-app.done:
		fmt.Printf("result: %v\n", v)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
