package fingerprint

import (
	"sort"

	"github.com/t14raptor/go-fast/ast"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// Result is the output of fingerprinting one interpreter: the recovered
// opcode map, the dispatcher's RETURN opcode, and the set of binary
// handlers with reversed operand order.
type Result struct {
	Map          *model.OpcodeMap
	ReturnOpcode int
	HasReturn    bool
	Swapped      model.OpcodeSet
	// Unclassified lists raw opcodes whose handlers matched no rule.
	Unclassified []int
}

// Fingerprint classifies every handler of the dispatch table by
// structural analysis. Handlers are walked, never executed. Given the
// same parsed interpreter the result is deterministic.
func Fingerprint(in *Interpreter) (*Result, error) {
	if in == nil || len(in.Handlers) == 0 {
		return nil, model.ErrHandlerTableNotFound
	}

	result := &Result{
		Map:     model.NewOpcodeMap(),
		Swapped: make(model.OpcodeSet),
	}

	opcodes := make([]int, 0, len(in.Handlers))
	for raw := range in.Handlers {
		opcodes = append(opcodes, raw)
	}
	sort.Ints(opcodes)

	for _, raw := range opcodes {
		f := extractFeatures(in.Handlers[raw], in)
		name := classify(f)
		if name == "" {
			result.Unclassified = append(result.Unclassified, raw)
			continue
		}
		result.Map.Set(raw, name)

		if model.BinaryOperator(name) != "" && f.popCapture {
			result.Swapped.Add(raw)
		}
	}

	if ret, ok := detectReturnOpcode(in.Dispatcher); ok {
		result.ReturnOpcode = ret
		result.HasReturn = true
		if _, mapped := result.Map.Name(ret); !mapped {
			result.Map.Set(ret, model.OpReturn)
		}
	} else if raw, ok := result.Map.Number(model.OpReturn); ok {
		result.ReturnOpcode = raw
		result.HasReturn = true
	}

	return result, nil
}

// detectReturnOpcode scans the dispatcher's main loop for a top-level
// equality between the dispatched value and a numeric literal; that
// literal is the RETURN opcode of the payload.
func detectReturnOpcode(dispatcher *ast.FunctionLiteral) (int, bool) {
	if dispatcher == nil || dispatcher.Body == nil {
		return 0, false
	}

	finder := &returnOpcodeFinder{}
	for i := range dispatcher.Body.List {
		finder.walkStmt(&dispatcher.Body.List[i], false)
		if finder.found {
			return finder.opcode, true
		}
	}
	return 0, false
}

type returnOpcodeFinder struct {
	opcode int
	found  bool
}

func (v *returnOpcodeFinder) walkStmt(stmt *ast.Statement, inLoop bool) {
	if stmt == nil || stmt.Stmt == nil || v.found {
		return
	}

	switch s := stmt.Stmt.(type) {
	case *ast.WhileStatement:
		v.walkExpr(s.Test, true)
		v.walkStmt(s.Body, true)
	case *ast.DoWhileStatement:
		v.walkExpr(s.Test, true)
		v.walkStmt(s.Body, true)
	case *ast.ForStatement:
		v.walkExpr(s.Test, true)
		v.walkStmt(s.Body, true)
	case *ast.IfStatement:
		v.walkExpr(s.Test, inLoop)
		v.walkStmt(s.Consequent, inLoop)
		v.walkStmt(s.Alternate, inLoop)
	case *ast.BlockStatement:
		for i := range s.List {
			v.walkStmt(&s.List[i], inLoop)
		}
	case *ast.ExpressionStatement:
		v.walkExpr(s.Expression, inLoop)
	}
}

func (v *returnOpcodeFinder) walkExpr(expr *ast.Expression, inLoop bool) {
	if expr == nil || expr.Expr == nil || v.found {
		return
	}

	switch e := expr.Expr.(type) {
	case *ast.BinaryExpression:
		if inLoop && e.Operator.String() == "===" {
			if num, ok := e.Right.Expr.(*ast.NumberLiteral); ok && num.Value >= 0 && num.Value < 256 {
				v.opcode = int(num.Value)
				v.found = true
				return
			}
			if num, ok := e.Left.Expr.(*ast.NumberLiteral); ok && num.Value >= 0 && num.Value < 256 {
				v.opcode = int(num.Value)
				v.found = true
				return
			}
		}
		v.walkExpr(e.Left, inLoop)
		v.walkExpr(e.Right, inLoop)
	case *ast.SequenceExpression:
		for i := range e.Sequence {
			v.walkExpr(&e.Sequence[i], inLoop)
		}
	case *ast.UnaryExpression:
		v.walkExpr(e.Operand, inLoop)
	}
}
