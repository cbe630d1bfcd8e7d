package console

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/softjit/regalloc"
	"github.com/colorfulnotion/softjit/x86"
	"github.com/dop251/goja"
)

// parseRef accepts a number (absolute address), "tN" (temporary), a memory
// expression such as "[ebp-8]" or "[ebx+ecx*4+0x200]", or null.
func parseRef(v goja.Value) (regalloc.Ref, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return regalloc.Ref{}, nil
	}
	switch x := v.Export().(type) {
	case int64:
		if x < 0 || x > 0xFFFFFFFF {
			return regalloc.Ref{}, fmt.Errorf("address %d out of range", x)
		}
		return regalloc.At(uint32(x)), nil
	case float64:
		if x < 0 || x > 0xFFFFFFFF || x != float64(uint32(x)) {
			return regalloc.Ref{}, fmt.Errorf("address %v is not a 32-bit integer", x)
		}
		return regalloc.At(uint32(x)), nil
	case string:
		return parseRefString(x)
	}
	return regalloc.Ref{}, fmt.Errorf("cannot use %s as a reference", v.String())
}

func parseRefString(s string) (regalloc.Ref, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "" || s == "null":
		return regalloc.Ref{}, nil
	case strings.HasPrefix(s, "t"):
		i, err := strconv.Atoi(s[1:])
		if err != nil {
			return regalloc.Ref{}, fmt.Errorf("bad temporary %q", s)
		}
		return regalloc.Temp(i), nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		m, err := parseMem(s[1 : len(s)-1])
		if err != nil {
			return regalloc.Ref{}, err
		}
		return regalloc.MemRef(m), nil
	}
	addr, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return regalloc.Ref{}, fmt.Errorf("bad reference %q", s)
	}
	return regalloc.At(uint32(addr)), nil
}

// parseMem parses base+index*scale+disp terms in any order. Displacement
// terms may be negative.
func parseMem(expr string) (x86.Mem, error) {
	var m x86.Mem
	expr = strings.ReplaceAll(expr, " ", "")
	expr = strings.ReplaceAll(expr, "-", "+-")
	for _, term := range strings.Split(expr, "+") {
		if term == "" {
			continue
		}
		if name, scale, ok := strings.Cut(term, "*"); ok {
			r, found := x86.ParseReg(name)
			if !found || m.Index != x86.NoReg {
				return m, fmt.Errorf("bad index term %q", term)
			}
			n, err := strconv.ParseUint(scale, 0, 8)
			if err != nil {
				return m, fmt.Errorf("bad scale in %q", term)
			}
			m.Index, m.Scale = r, uint8(n)
			continue
		}
		if r, found := x86.ParseReg(term); found {
			switch {
			case m.Base == x86.NoReg:
				m.Base = r
			case m.Index == x86.NoReg:
				m.Index, m.Scale = r, 1
			default:
				return m, fmt.Errorf("too many registers in [%s]", expr)
			}
			continue
		}
		d, err := strconv.ParseInt(term, 0, 64)
		if err != nil {
			return m, fmt.Errorf("bad displacement %q", term)
		}
		m.Disp += int32(d)
	}
	return m, nil
}

// parseReg accepts a register name only.
func parseReg(v goja.Value) (x86.Reg, bool) {
	s, ok := v.Export().(string)
	if !ok {
		return x86.NoReg, false
	}
	return x86.ParseReg(s)
}
