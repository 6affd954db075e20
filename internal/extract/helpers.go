package extract

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/fingerprint"
)

// findHelpers recovers the obfuscated names bound to the interpreter's
// push/pop/readByte/readDword/readDouble helpers by body shape, and the
// state object's identifier from the helper bodies.
func findHelpers(p *ast.Program, in *fingerprint.Interpreter) {
	finder := &helperFinder{in: in}
	finder.V = finder
	p.VisitWith(finder)
}

type helperFinder struct {
	ast.NoopVisitor
	in *fingerprint.Interpreter
}

func (v *helperFinder) VisitStatement(n *ast.Statement) {
	n.VisitChildrenWith(v)

	switch s := n.Stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Name != nil {
			v.classify(s.Function.Name.Name, s.Function)
		}
	case *ast.VariableDeclaration:
		for i := range s.List {
			d := s.List[i]
			if d.Initializer == nil || d.Target == nil || d.Target.Target == nil {
				continue
			}
			id, ok := d.Target.Target.(*ast.Identifier)
			if !ok {
				continue
			}
			if fn, ok := d.Initializer.Expr.(*ast.FunctionLiteral); ok {
				v.classify(id.Name, fn)
			}
		}
	}
}

func (v *helperFinder) classify(name string, fn *ast.FunctionLiteral) {
	if fn == nil || fn.Body == nil || len(fn.Body.List) == 0 {
		return
	}

	shape := &helperShape{}
	shape.V = shape
	fn.Body.VisitWith(shape)

	switch {
	case shape.usesFloat64 && v.in.Helpers.ReadDouble == "":
		v.in.Helpers.ReadDouble = name
	case shape.hasShift && v.in.Helpers.ReadDword == "":
		v.in.Helpers.ReadDword = name
		v.noteState(shape.stateName)
	case shape.memberPop && v.in.Helpers.Pop == "":
		v.in.Helpers.Pop = name
		v.noteState(shape.stateName)
	case shape.memberPush && v.in.Helpers.Push == "":
		v.in.Helpers.Push = name
		v.noteState(shape.stateName)
	case shape.indexedRead && !shape.hasShift && v.in.Helpers.ReadByte == "":
		v.in.Helpers.ReadByte = name
		v.noteState(shape.stateName)
	}
}

func (v *helperFinder) noteState(name string) {
	if name != "" && v.in.StateName == "" {
		v.in.StateName = name
	}
}

// helperShape records the structural tells of one candidate helper:
// a `.pop()`/`.push(x)` on a state member, an indexed read off the state,
// shift reassembly of a dword, or the Float64Array double idiom.
type helperShape struct {
	ast.NoopVisitor
	memberPop   bool
	memberPush  bool
	indexedRead bool
	hasShift    bool
	usesFloat64 bool
	stateName   string
}

func (v *helperShape) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	switch e := n.Expr.(type) {
	case *ast.CallExpression:
		member, ok := e.Callee.Expr.(*ast.MemberExpression)
		if !ok {
			return
		}
		prop, ok := member.Property.Prop.(*ast.Identifier)
		if !ok {
			return
		}
		switch prop.Name {
		case "pop":
			v.memberPop = true
			v.noteRoot(member)
		case "push":
			v.memberPush = true
			v.noteRoot(member)
		}
	case *ast.MemberExpression:
		if _, computed := e.Property.Prop.(*ast.ComputedProperty); computed {
			v.indexedRead = true
			v.noteRoot(e)
		}
	case *ast.BinaryExpression:
		if op := e.Operator.String(); op == "<<" || op == "|" {
			v.hasShift = true
		}
	case *ast.NewExpression:
		if id, ok := e.Callee.Expr.(*ast.Identifier); ok && id.Name == "Float64Array" {
			v.usesFloat64 = true
		}
	case *ast.Identifier:
		if e.Name == "Float64Array" {
			v.usesFloat64 = true
		}
	}
}

// noteRoot records the identifier at the base of a member chain.
func (v *helperShape) noteRoot(m *ast.MemberExpression) {
	for {
		switch obj := m.Object.Expr.(type) {
		case *ast.Identifier:
			if v.stateName == "" {
				v.stateName = obj.Name
			}
			return
		case *ast.MemberExpression:
			m = obj
		default:
			return
		}
	}
}
