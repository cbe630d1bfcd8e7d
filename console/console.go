// Package console drives the register allocator from JavaScript. Every call
// on the jit object goes straight to one allocator and one assembler, so a
// script is a readable trace of allocation decisions and the code they emit.
package console

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/softjit/log"
	"github.com/colorfulnotion/softjit/regalloc"
	"github.com/colorfulnotion/softjit/x86"
	"github.com/dop251/goja"
)

type handler func(args []goja.Value) (interface{}, error)

type Console struct {
	vm      *goja.Runtime
	asm     *x86.Assembler
	alloc   *regalloc.Allocator
	cfg     regalloc.Config
	out     io.Writer
	methods map[string]handler
}

func New(cfg regalloc.Config, out io.Writer) (*Console, error) {
	asm := x86.NewAssembler(256)
	alloc, err := regalloc.New(asm, cfg)
	if err != nil {
		return nil, err
	}
	c := &Console{
		vm:    goja.New(),
		asm:   asm,
		alloc: alloc,
		cfg:   cfg,
		out:   out,
	}
	c.registerMethods()

	c.vm.Set("jit_call", func(call goja.FunctionCall) goja.Value {
		method := call.Argument(0).String()
		h, ok := c.methods[method]
		if !ok {
			panic(c.vm.NewGoError(fmt.Errorf("unknown method jit.%s", method)))
		}
		res, err := h(call.Arguments[1:])
		if err != nil {
			log.Debug(log.ConsoleMonitoring, "call failed", "method", method, "err", err)
			panic(c.vm.NewGoError(err))
		}
		return c.vm.ToValue(res)
	})
	c.vm.Set("print", func(args ...goja.Value) {
		for _, arg := range args {
			fmt.Fprintln(c.out, arg.Export())
		}
	})

	// Use JavaScript Proxy to automatically bind `jit.xxx()`
	_, err = c.vm.RunString(`
		var jit = new Proxy({}, {
			get: function(target, method) {
				return function(...args) {
					return jit_call(method, ...args);
				};
			}
		});
	`)
	if err != nil {
		return nil, fmt.Errorf("install jit object: %w", err)
	}
	return c, nil
}

func (c *Console) Allocator() *regalloc.Allocator { return c.alloc }
func (c *Console) Assembler() *x86.Assembler      { return c.asm }

// Run evaluates src and returns the exported result.
func (c *Console) Run(src string) (interface{}, error) {
	v, err := c.vm.RunString(src)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

// Methods lists the names callable on the jit object.
func (c *Console) Methods() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Console) registerMethods() {
	c.methods = map[string]handler{
		"r32": c.get(c.alloc.R32), "x32": c.get(c.alloc.X32), "m32": c.get(c.alloc.M32),
		"r64": c.get(c.alloc.R64), "x64": c.get(c.alloc.X64), "m64": c.get(c.alloc.M64),
		"r128": c.get(c.alloc.R128), "x128": c.get(c.alloc.X128), "m128": c.get(c.alloc.M128),
		"t32": c.temp(c.alloc.T32), "t64": c.temp(c.alloc.T64), "t128": c.temp(c.alloc.T128),

		"allocate": c.allocate,
		"free":     c.release(false),
		"spill":    c.release(true),
		"freeAll": func([]goja.Value) (interface{}, error) {
			c.alloc.FreeAll()
			return nil, nil
		},
		"spillAll": func([]goja.Value) (interface{}, error) {
			return nil, c.alloc.SpillAll()
		},
		"real": func(args []goja.Value) (interface{}, error) {
			ref, err := parseRef(arg(args, 0))
			if err != nil {
				return nil, err
			}
			return c.alloc.Real(ref), nil
		},
		"occupant": func(args []goja.Value) (interface{}, error) {
			reg, ok := parseReg(arg(args, 0))
			if !ok {
				return nil, fmt.Errorf("%w: %s", regalloc.ErrInternal, arg(args, 0))
			}
			return c.alloc.Occupant(reg).String(), nil
		},
		"state": func([]goja.Value) (interface{}, error) {
			return c.state(), nil
		},
		"tree": func([]goja.Value) (interface{}, error) {
			return c.alloc.Tree(), nil
		},
		"listing": func([]goja.Value) (interface{}, error) {
			return c.asm.Listing(), nil
		},
		"bytes": func([]goja.Value) (interface{}, error) {
			return hex.EncodeToString(c.asm.Bytes()), nil
		},
		"count": func([]goja.Value) (interface{}, error) {
			return c.asm.Count(), nil
		},
		"reset": func([]goja.Value) (interface{}, error) {
			return nil, c.reset()
		},
		"help": func([]goja.Value) (interface{}, error) {
			return strings.Join(c.Methods(), " "), nil
		},
	}
}

func arg(args []goja.Value, i int) goja.Value {
	if i < len(args) {
		return args[i]
	}
	return goja.Undefined()
}

func (c *Console) get(fn func(regalloc.Ref) (x86.Operand, error)) handler {
	return func(args []goja.Value) (interface{}, error) {
		ref, err := parseRef(arg(args, 0))
		if err != nil {
			return nil, err
		}
		op, err := fn(ref)
		if err != nil {
			return nil, err
		}
		return op.String(), nil
	}
}

func (c *Console) temp(fn func(int) (x86.Operand, error)) handler {
	return func(args []goja.Value) (interface{}, error) {
		op, err := fn(int(arg(args, 0).ToInteger()))
		if err != nil {
			return nil, err
		}
		return op.String(), nil
	}
}

// allocate(reg, ref, copy)
func (c *Console) allocate(args []goja.Value) (interface{}, error) {
	reg, ok := parseReg(arg(args, 0))
	if !ok {
		return nil, fmt.Errorf("%w: unknown register %s", regalloc.ErrInternal, arg(args, 0))
	}
	ref, err := parseRef(arg(args, 1))
	if err != nil {
		return nil, err
	}
	op, err := c.alloc.Allocate(reg, ref, arg(args, 2).ToBoolean())
	if err != nil {
		return nil, err
	}
	return op.String(), nil
}

// release handles free and spill. A register name selects the register,
// anything else is taken as a reference.
func (c *Console) release(spill bool) handler {
	return func(args []goja.Value) (interface{}, error) {
		if reg, ok := parseReg(arg(args, 0)); ok {
			if spill {
				return nil, c.alloc.Spill(reg)
			}
			return nil, c.alloc.Free(reg)
		}
		ref, err := parseRef(arg(args, 0))
		if err != nil {
			return nil, err
		}
		if spill {
			return nil, c.alloc.SpillRef(ref)
		}
		c.alloc.FreeRef(ref)
		return nil, nil
	}
}

func (c *Console) state() []map[string]interface{} {
	var out []map[string]interface{}
	for _, s := range c.alloc.States() {
		out = append(out, map[string]interface{}{
			"reg":      s.Reg.String(),
			"class":    s.Reg.Class().String(),
			"ref":      s.Occupant.String(),
			"real":     c.alloc.Real(s.Occupant),
			"priority": s.Priority,
		})
	}
	return out
}

// reset discards the emitted code and starts a fresh allocator.
func (c *Console) reset() error {
	c.asm.Reset()
	alloc, err := regalloc.New(c.asm, c.cfg)
	if err != nil {
		return err
	}
	c.alloc = alloc
	c.registerMethods()
	return nil
}

// Interactive reads JavaScript lines until EOF or "exit".
func (c *Console) Interactive(historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "jit> ",
		HistoryFile: historyFile,
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(c.out, "softjit console, type jit.help() for methods or 'exit' to quit")
	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}
		value, err := c.Run(line)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			continue
		}
		if value != nil {
			fmt.Fprintln(c.out, value)
		}
	}
}
