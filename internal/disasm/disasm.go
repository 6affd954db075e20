package disasm

import (
	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// Disassembler decodes a linear instruction stream. The opcode map,
// string table, version, and return opcode are fixed per payload and
// shared with nested function bodies.
type Disassembler struct {
	opmap        *model.OpcodeMap
	strings      []string
	version      model.Version
	returnOpcode int
	hasReturn    bool
}

type Option func(*Disassembler)

// WithReturnOpcode nominates the dispatcher's RETURN opcode, which has no
// handler of its own in the table.
func WithReturnOpcode(raw int) Option {
	return func(d *Disassembler) {
		d.returnOpcode = raw
		d.hasReturn = true
	}
}

func New(opmap *model.OpcodeMap, strings []string, version model.Version, opts ...Option) (*Disassembler, error) {
	if opmap == nil || opmap.Len() == 0 {
		return nil, model.ErrOpcodeMapEmpty
	}
	d := &Disassembler{
		opmap:   opmap,
		strings: strings,
		version: version,
	}
	for _, opt := range opts {
		opt(d)
	}
	if !d.hasReturn {
		if raw, ok := opmap.Number(model.OpReturn); ok {
			d.returnOpcode = raw
			d.hasReturn = true
		}
	}
	return d, nil
}

func (d *Disassembler) Version() model.Version {
	return d.version
}

// Disassemble decodes the whole stream. An operand underrun attaches an
// error to the instruction being decoded and halts that body; the
// already-decoded prefix stays valid.
func (d *Disassembler) Disassemble(code []byte) []*model.Instruction {
	var instrs []*model.Instruction
	r := &reader{data: code}

	for !r.eof() {
		addr := r.pos
		opByte, err := r.readByte()
		if err != nil {
			break
		}

		instr := &model.Instruction{
			Addr:   addr,
			Opcode: int(opByte),
		}

		if d.hasReturn && int(opByte) == d.returnOpcode {
			instr.OpName = model.OpReturn
		} else if name, ok := d.opmap.Name(int(opByte)); ok {
			instr.OpName = name
		} else {
			instr.OpName = model.UnknownName(int(opByte))
		}

		if err := d.decodeOperands(r, instr); err != nil {
			instr.Error = err.Error()
			instrs = append(instrs, instr)
			break
		}

		instrs = append(instrs, instr)
	}

	return instrs
}

func (d *Disassembler) decodeOperands(r *reader, instr *model.Instruction) error {
	switch instr.OpName {
	case model.OpBuildFunction:
		length, err := r.readDword()
		if err != nil {
			return err
		}
		body, err := r.readBytes(int(length))
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args, model.Arg{Kind: model.KindLength, Value: int(length)})
		instr.FnBody = append([]byte(nil), body...)
		return nil

	case model.OpAssignVariable:
		isOp, err := r.readByte()
		if err != nil {
			return err
		}
		scope, err := r.readDword()
		if err != nil {
			return err
		}
		dest, err := r.readDword()
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args,
			model.Arg{Kind: model.KindIsOp, Value: int(isOp)},
			model.Arg{Kind: model.KindScope, Value: int(scope)},
			model.Arg{Kind: model.KindDest, Value: int(dest)},
		)
		if isOp == 1 {
			// Compound assignment embeds the operator as one more opcode
			// byte, translated through the same map.
			opByte, err := r.readByte()
			if err != nil {
				return err
			}
			name, ok := d.opmap.Name(int(opByte))
			if !ok {
				name = model.UnknownName(int(opByte))
			}
			instr.Args = append(instr.Args, model.Arg{Kind: model.KindAssignOp, Value: name})
		}
		return nil
	}

	for _, kind := range model.OperandSchema(instr.OpName, d.version) {
		arg, err := d.readOperand(r, kind)
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args, arg)

		if kind == model.KindStringIndex {
			idx := arg.Int()
			if idx >= 0 && idx < len(d.strings) {
				instr.StringValue = d.strings[idx]
			}
		}
	}
	return nil
}

func (d *Disassembler) readOperand(r *reader, kind model.ArgKind) (model.Arg, error) {
	switch kind.Width() {
	case 1:
		b, err := r.readByte()
		if err != nil {
			return model.Arg{}, err
		}
		return model.Arg{Kind: kind, Value: int(b)}, nil
	case 8:
		f, err := r.readDouble()
		if err != nil {
			return model.Arg{}, err
		}
		return model.Arg{Kind: kind, Value: f}, nil
	default:
		v, err := r.readDword()
		if err != nil {
			return model.Arg{}, err
		}
		if kind == model.KindSignedDword {
			return model.Arg{Kind: kind, Value: int(int32(v))}, nil
		}
		return model.Arg{Kind: kind, Value: int(v)}, nil
	}
}

// ValidateJumps records ErrJumpTargetUnresolved on any jump whose target
// is not the address of an instruction in the same body.
func ValidateJumps(instrs []*model.Instruction) {
	addrs := make(map[int]bool, len(instrs))
	for _, instr := range instrs {
		addrs[instr.Addr] = true
	}
	for _, instr := range instrs {
		if !instr.IsJump() {
			continue
		}
		if !addrs[instr.JumpTarget()] && instr.Error == "" {
			instr.Error = model.ErrJumpTargetUnresolved.Error()
		}
	}
}

// AddrIndex maps instruction addresses to stream indices.
func AddrIndex(instrs []*model.Instruction) map[int]int {
	out := make(map[int]int, len(instrs))
	for i, instr := range instrs {
		out[instr.Addr] = i
	}
	return out
}
