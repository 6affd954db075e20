// Package extract is the boundary between a parsed obfuscated script and
// the raw bytes the core consumes. Everything here is a non-executing
// structural walk over the go-fast AST.
package extract

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/fingerprint"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// Payload is everything the core pipeline needs from one obfuscated
// script.
type Payload struct {
	BytecodeB64      string
	StringTableBytes []byte
	Interpreter      *fingerprint.Interpreter
}

// FromSource parses the script and locates the embedded interpreter and
// payloads.
func FromSource(src string) (*Payload, error) {
	prog, err := parser.ParseFile(src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return FromProgram(prog)
}

// FromProgram locates the dispatch table, the bytecode blob, the string
// table blob, and the interpreter helpers. A missing bytecode blob or
// handler table is fatal; a missing string table is not, the decoder
// falls back to literal indices downstream.
func FromProgram(p *ast.Program) (*Payload, error) {
	table := findHandlerTable(p)
	if len(table) == 0 {
		return nil, model.ErrHandlerTableNotFound
	}

	bytecode := findBytecodeBlob(p)
	if bytecode == "" {
		return nil, model.ErrBytecodeBlobNotFound
	}

	in := &fingerprint.Interpreter{
		Handlers:   table,
		Dispatcher: findDispatcher(p),
		// The obfuscator shuffles opcode numbers and helper names but
		// leaves the state object's fields nominally named.
		State: fingerprint.StateFields{
			Stack:     "stack",
			Scopes:    "scopes",
			Strings:   "strings",
			Arguments: "arguments",
			ThisRef:   "thisRef",
			Global:    "global",
		},
	}
	findHelpers(p, in)

	return &Payload{
		BytecodeB64:      bytecode,
		StringTableBytes: findStringTableBlob(p),
		Interpreter:      in,
	}, nil
}

// findHandlerTable keeps the largest object literal mapping numeric keys
// to function literals.
func findHandlerTable(p *ast.Program) map[int]*ast.FunctionLiteral {
	finder := &handlerTableFinder{}
	finder.V = finder
	p.VisitWith(finder)
	return finder.table
}

type handlerTableFinder struct {
	ast.NoopVisitor
	table map[int]*ast.FunctionLiteral
}

func (v *handlerTableFinder) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	obj, ok := n.Expr.(*ast.ObjectLiteral)
	if !ok {
		return
	}

	candidate := make(map[int]*ast.FunctionLiteral)
	for _, entry := range obj.Value {
		prop, ok := entry.Prop.(*ast.PropertyKeyed)
		if !ok || prop.Value == nil || prop.Value.Expr == nil {
			continue
		}
		key, ok := numericKey(prop.Key)
		if !ok {
			continue
		}
		fn, ok := prop.Value.Expr.(*ast.FunctionLiteral)
		if !ok {
			continue
		}
		candidate[key] = fn
	}

	if len(candidate) >= 8 && len(candidate) > len(v.table) {
		v.table = candidate
	}
}

func numericKey(keyExpr *ast.Expression) (int, bool) {
	if keyExpr == nil || keyExpr.Expr == nil {
		return 0, false
	}
	switch k := keyExpr.Expr.(type) {
	case *ast.NumberLiteral:
		return int(k.Value), true
	case *ast.StringLiteral:
		n, err := strconv.Atoi(k.Value)
		return n, err == nil
	default:
		return 0, false
	}
}

var base64Re = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// findBytecodeBlob keeps the longest base64-shaped string literal.
func findBytecodeBlob(p *ast.Program) string {
	finder := &bytecodeBlobFinder{}
	finder.V = finder
	p.VisitWith(finder)
	return finder.value
}

type bytecodeBlobFinder struct {
	ast.NoopVisitor
	value string
}

func (v *bytecodeBlobFinder) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	lit, ok := n.Expr.(*ast.StringLiteral)
	if !ok {
		return
	}
	if len(lit.Value) <= len(v.value) || len(lit.Value) < 64 {
		return
	}
	if base64Re.MatchString(lit.Value) {
		v.value = lit.Value
	}
}

// findStringTableBlob keeps the largest array literal of byte-sized
// integers.
func findStringTableBlob(p *ast.Program) []byte {
	finder := &stringTableBlobFinder{}
	finder.V = finder
	p.VisitWith(finder)
	return finder.bytes
}

type stringTableBlobFinder struct {
	ast.NoopVisitor
	bytes []byte
}

func (v *stringTableBlobFinder) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	arr, ok := n.Expr.(*ast.ArrayLiteral)
	if !ok || len(arr.Value) < 8 || len(arr.Value) <= len(v.bytes) {
		return
	}

	out := make([]byte, 0, len(arr.Value))
	for i := range arr.Value {
		num, ok := arr.Value[i].Expr.(*ast.NumberLiteral)
		if !ok || num.Value < 0 || num.Value > 255 || num.Value != float64(int(num.Value)) {
			return
		}
		out = append(out, byte(num.Value))
	}
	v.bytes = out
}

// findDispatcher keeps the first function containing a loop that
// dispatches through a computed call and compares the dispatched value
// against a numeric literal.
func findDispatcher(p *ast.Program) *ast.FunctionLiteral {
	finder := &dispatcherFinder{}
	finder.V = finder
	p.VisitWith(finder)
	return finder.fn
}

type dispatcherFinder struct {
	ast.NoopVisitor
	fn *ast.FunctionLiteral
}

func (v *dispatcherFinder) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)
	if v.fn != nil {
		return
	}

	fn, ok := n.Expr.(*ast.FunctionLiteral)
	if !ok || fn.Body == nil {
		return
	}

	checker := &dispatcherShapeChecker{}
	checker.V = checker
	fn.Body.VisitWith(checker)
	if checker.hasLoop && checker.hasComputedCall && checker.hasNumericEquality {
		v.fn = fn
	}
}

type dispatcherShapeChecker struct {
	ast.NoopVisitor
	hasLoop            bool
	hasComputedCall    bool
	hasNumericEquality bool
}

func (v *dispatcherShapeChecker) VisitStatement(n *ast.Statement) {
	n.VisitChildrenWith(v)
	switch n.Stmt.(type) {
	case *ast.WhileStatement, *ast.DoWhileStatement, *ast.ForStatement:
		v.hasLoop = true
	}
}

func (v *dispatcherShapeChecker) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	switch e := n.Expr.(type) {
	case *ast.CallExpression:
		if member, ok := e.Callee.Expr.(*ast.MemberExpression); ok {
			if _, computed := member.Property.Prop.(*ast.ComputedProperty); computed {
				v.hasComputedCall = true
			}
		}
	case *ast.BinaryExpression:
		if e.Operator.String() != "===" {
			return
		}
		if _, ok := e.Right.Expr.(*ast.NumberLiteral); ok {
			v.hasNumericEquality = true
		}
		if _, ok := e.Left.Expr.(*ast.NumberLiteral); ok {
			v.hasNumericEquality = true
		}
	}
}
