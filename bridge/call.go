package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Signature is the core wasm type of an exported function.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Call invokes the function fn exported by the shared module. Host modules
// do not expose their functions directly, so the call goes through a small
// anonymous guest module that imports fn and re-exports it. The caller must
// hold a reservation for the duration of the call.
func (m *Module) Call(ctx context.Context, fn string, sig Signature, args ...uint64) ([]uint64, error) {
	if _, err := m.Module(); err != nil {
		return nil, err
	}

	compiled, err := m.rt.CompileModule(ctx, trampoline(m.name, fn, sig))
	if err != nil {
		return nil, fmt.Errorf("compile call %s.%s: %w", m.name, fn, err)
	}
	defer compiled.Close(ctx)

	inst, err := m.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("link call %s.%s: %w", m.name, fn, err)
	}
	defer inst.Close(ctx)

	return inst.ExportedFunction(fn).Call(ctx, args...)
}

// Section ids of the wasm binary format.
const (
	sectionType     = 0x01
	sectionImport   = 0x02
	sectionFunction = 0x03
	sectionExport   = 0x07
	sectionCode     = 0x0a
)

const (
	kindFunc   = 0x00
	opLocalGet = 0x20
	opCall     = 0x10
	opEnd      = 0x0b
	typeFunc   = 0x60
)

// trampoline encodes a module that imports module.fn with sig as function 0
// and exports function 1, which forwards its parameters to it.
func trampoline(module, fn string, sig Signature) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	typ := appendU32(nil, 1)
	typ = append(typ, typeFunc)
	typ = appendU32(typ, uint32(len(sig.Params)))
	typ = append(typ, sig.Params...)
	typ = appendU32(typ, uint32(len(sig.Results)))
	typ = append(typ, sig.Results...)
	out = appendSection(out, sectionType, typ)

	imp := appendU32(nil, 1)
	imp = appendName(imp, module)
	imp = appendName(imp, fn)
	imp = append(imp, kindFunc)
	imp = appendU32(imp, 0)
	out = appendSection(out, sectionImport, imp)

	out = appendSection(out, sectionFunction, []byte{0x01, 0x00})

	exp := appendU32(nil, 1)
	exp = appendName(exp, fn)
	exp = append(exp, kindFunc)
	exp = appendU32(exp, 1)
	out = appendSection(out, sectionExport, exp)

	body := appendU32(nil, 0) // no locals
	for i := range sig.Params {
		body = append(body, opLocalGet)
		body = appendU32(body, uint32(i))
	}
	body = append(body, opCall)
	body = appendU32(body, 0)
	body = append(body, opEnd)

	code := appendU32(nil, 1)
	code = appendU32(code, uint32(len(body)))
	code = append(code, body...)
	return appendSection(out, sectionCode, code)
}

func appendSection(b []byte, id byte, content []byte) []byte {
	b = append(b, id)
	b = appendU32(b, uint32(len(content)))
	return append(b, content...)
}

func appendName(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

// appendU32 appends v as unsigned LEB128.
func appendU32(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}
