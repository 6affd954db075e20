package fingerprint

import (
	"github.com/t14raptor/go-fast/ast"
)

// features is the structural fingerprint of one handler. Everything here
// is derived from an abstract tree walk; handlers are never executed.
type features struct {
	pushCalls      int
	popCalls       int
	stmts          int
	computedMember int
	doubleComputed int
	readByteCalls  int
	readDwordCalls int
	readDblCalls   int

	readsString   bool
	hasLoop       bool
	hasIf         bool
	usesApply     bool
	usesNew       bool
	usesThisRef   bool
	usesArguments bool
	usesScopes    bool
	usesGlobal    bool
	doubleScope   bool
	hasAssign     bool
	nullishAssign bool
	hasUpdate     bool
	updateOp      string
	hasArrayLit   bool
	hasObjectLit  bool
	hasSpread     bool
	hasFnLit      bool
	hasTryFinally bool
	hasThrow      bool
	hasDebugger   bool
	pushesNull    bool
	eqOne         bool
	hasFloat64    bool
	usesRegExp    bool
	memberPush    bool
	memberPop     bool
	arrayFrom     bool

	// popCapture marks `var n = pop()` — the swapped-operand idiom for
	// binary handlers.
	popCapture bool

	ops map[string]bool
}

type featureWalker struct {
	f  *features
	in *Interpreter
}

// extractFeatures records the feature vector of a single handler body.
func extractFeatures(fn *ast.FunctionLiteral, in *Interpreter) *features {
	f := &features{ops: make(map[string]bool)}
	if fn == nil || fn.Body == nil {
		return f
	}
	f.stmts = len(fn.Body.List)

	w := &featureWalker{f: f, in: in}
	for i := range fn.Body.List {
		w.walkStmt(&fn.Body.List[i])
	}
	return f
}

func (w *featureWalker) walkBlock(block *ast.BlockStatement) {
	if block == nil {
		return
	}
	for i := range block.List {
		w.walkStmt(&block.List[i])
	}
}

func (w *featureWalker) walkStmt(stmt *ast.Statement) {
	if stmt == nil || stmt.Stmt == nil {
		return
	}

	switch s := stmt.Stmt.(type) {
	case *ast.ExpressionStatement:
		w.walkExpr(s.Expression)
	case *ast.VariableDeclaration:
		for i := range s.List {
			init := s.List[i].Initializer
			if init == nil {
				continue
			}
			if call, ok := init.Expr.(*ast.CallExpression); ok && w.isHelperCall(call, w.in.Helpers.Pop) {
				w.f.popCapture = true
			}
			w.walkExpr(init)
		}
	case *ast.IfStatement:
		w.f.hasIf = true
		w.walkExpr(s.Test)
		w.walkStmt(s.Consequent)
		w.walkStmt(s.Alternate)
	case *ast.ForStatement:
		w.f.hasLoop = true
		w.walkExpr(s.Test)
		// A loop counter's ++/-- is not the handler's own update.
		hasUpdate, updateOp := w.f.hasUpdate, w.f.updateOp
		w.walkExpr(s.Update)
		w.f.hasUpdate, w.f.updateOp = hasUpdate, updateOp
		w.walkStmt(s.Body)
	case *ast.ForInStatement:
		w.f.hasLoop = true
		w.walkExpr(s.Source)
		w.walkStmt(s.Body)
	case *ast.WhileStatement:
		w.f.hasLoop = true
		w.walkExpr(s.Test)
		w.walkStmt(s.Body)
	case *ast.DoWhileStatement:
		w.f.hasLoop = true
		w.walkExpr(s.Test)
		w.walkStmt(s.Body)
	case *ast.ReturnStatement:
		w.walkExpr(s.Argument)
	case *ast.ThrowStatement:
		w.f.hasThrow = true
		w.walkExpr(s.Argument)
	case *ast.DebuggerStatement:
		w.f.hasDebugger = true
	case *ast.TryStatement:
		if s.Finally != nil {
			w.f.hasTryFinally = true
		}
		w.walkBlock(s.Body)
		if s.Catch != nil {
			w.walkBlock(s.Catch.Body)
		}
		w.walkBlock(s.Finally)
	case *ast.SwitchStatement:
		w.walkExpr(s.Discriminant)
		for i := range s.Body {
			for j := range s.Body[i].Consequent {
				w.walkStmt(&s.Body[i].Consequent[j])
			}
		}
	case *ast.BlockStatement:
		w.walkBlock(s)
	case *ast.FunctionDeclaration:
		w.f.hasFnLit = true
	}
}

func (w *featureWalker) walkExpr(expr *ast.Expression) {
	if expr == nil || expr.Expr == nil {
		return
	}

	switch e := expr.Expr.(type) {
	case *ast.CallExpression:
		w.walkCall(e)
	case *ast.NewExpression:
		w.f.usesNew = true
		if id, ok := e.Callee.Expr.(*ast.Identifier); ok && id.Name == "RegExp" {
			w.f.usesRegExp = true
		}
		w.walkExpr(e.Callee)
		for i := range e.ArgumentList {
			w.walkExpr(&e.ArgumentList[i])
		}
	case *ast.MemberExpression:
		w.walkMember(e)
	case *ast.BinaryExpression:
		op := e.Operator.String()
		w.f.ops[op] = true
		if (op == "===" || op == "==") && (isNumberLiteral(e.Left, 1) || isNumberLiteral(e.Right, 1)) {
			w.f.eqOne = true
		}
		w.walkExpr(e.Left)
		w.walkExpr(e.Right)
	case *ast.UnaryExpression:
		op := e.Operator.String()
		if op == "++" || op == "--" {
			w.f.hasUpdate = true
			w.f.updateOp = op
		} else {
			w.f.ops[op] = true
		}
		w.walkExpr(e.Operand)
	case *ast.UpdateExpression:
		w.f.hasUpdate = true
		w.f.updateOp = e.Operator.String()
		w.walkExpr(e.Operand)
	case *ast.AssignExpression:
		op := e.Operator.String()
		w.f.hasAssign = true
		if op == "??=" {
			w.f.nullishAssign = true
		} else if op != "=" && len(op) > 1 {
			w.f.ops[op[:len(op)-1]] = true
		}
		w.walkExpr(e.Left)
		w.walkExpr(e.Right)
	case *ast.ConditionalExpression:
		w.walkExpr(e.Test)
		w.walkExpr(e.Consequent)
		w.walkExpr(e.Alternate)
	case *ast.SequenceExpression:
		for i := range e.Sequence {
			w.walkExpr(&e.Sequence[i])
		}
	case *ast.ArrayLiteral:
		w.f.hasArrayLit = true
		for i := range e.Value {
			w.walkExpr(&e.Value[i])
		}
	case *ast.ObjectLiteral:
		w.f.hasObjectLit = true
		for i := range e.Value {
			if prop, ok := e.Value[i].Prop.(*ast.PropertyKeyed); ok && prop.Value != nil {
				w.walkExpr(prop.Value)
			}
		}
	case *ast.SpreadElement:
		w.f.hasSpread = true
		w.walkExpr(e.Expression)
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		// Nested function literals are the BUILD_FUNCTION template; their
		// internals are not part of this handler's fingerprint.
		w.f.hasFnLit = true
	case *ast.RegExpLiteral:
		w.f.usesRegExp = true
	case *ast.NullLiteral:
		w.f.pushesNull = true
	case *ast.Identifier:
		if e.Name == "Float64Array" {
			w.f.hasFloat64 = true
		}
	}
}

func (w *featureWalker) walkCall(call *ast.CallExpression) {
	if call == nil || call.Callee == nil || call.Callee.Expr == nil {
		return
	}

	if id, ok := call.Callee.Expr.(*ast.Identifier); ok {
		switch id.Name {
		case w.in.Helpers.Push:
			w.f.pushCalls++
		case w.in.Helpers.Pop:
			w.f.popCalls++
		case w.in.Helpers.ReadByte:
			w.f.readByteCalls++
		case w.in.Helpers.ReadDword:
			w.f.readDwordCalls++
		case w.in.Helpers.ReadDouble:
			w.f.readDblCalls++
		}
	}

	if member, ok := call.Callee.Expr.(*ast.MemberExpression); ok {
		if name, ok := memberPropName(member.Property); ok {
			switch name {
			case "apply":
				w.f.usesApply = true
			case "push":
				w.f.memberPush = true
			case "pop":
				w.f.memberPop = true
			case "from":
				if obj, ok := member.Object.Expr.(*ast.Identifier); ok && obj.Name == "Array" {
					w.f.arrayFrom = true
				}
			}
		}
		w.walkMember(member)
	}

	for i := range call.ArgumentList {
		w.walkExpr(&call.ArgumentList[i])
	}
}

func (w *featureWalker) walkMember(m *ast.MemberExpression) {
	if m == nil || m.Object == nil {
		return
	}

	if computed, ok := m.Property.Prop.(*ast.ComputedProperty); ok {
		w.f.computedMember++
		if inner, ok := m.Object.Expr.(*ast.MemberExpression); ok {
			if _, innerComputed := inner.Property.Prop.(*ast.ComputedProperty); innerComputed {
				w.f.doubleComputed++
				if innerMost, ok := inner.Object.Expr.(*ast.MemberExpression); ok && w.isStateField(innerMost, w.in.State.Scopes) {
					w.f.doubleScope = true
				}
			}
		}
		if computed.Expr != nil {
			w.walkExpr(computed.Expr)
		}
	}

	if w.isStateField(m, w.in.State.Strings) {
		w.f.readsString = true
	}
	if w.isStateField(m, w.in.State.Scopes) {
		w.f.usesScopes = true
	}
	if w.isStateField(m, w.in.State.Arguments) {
		w.f.usesArguments = true
	}
	if w.isStateField(m, w.in.State.ThisRef) {
		w.f.usesThisRef = true
	}
	if w.isStateField(m, w.in.State.Global) {
		w.f.usesGlobal = true
	}

	w.walkExpr(m.Object)
}

// isStateField reports whether m is `<state>.<field>` for the recovered
// state object name.
func (w *featureWalker) isStateField(m *ast.MemberExpression, field string) bool {
	if field == "" {
		return false
	}
	obj, ok := m.Object.Expr.(*ast.Identifier)
	if !ok || obj.Name != w.in.StateName {
		return false
	}
	name, ok := memberPropName(m.Property)
	return ok && name == field
}

func (w *featureWalker) isHelperCall(call *ast.CallExpression, helper string) bool {
	if helper == "" || call == nil || call.Callee == nil {
		return false
	}
	id, ok := call.Callee.Expr.(*ast.Identifier)
	return ok && id.Name == helper
}

func isNumberLiteral(e *ast.Expression, val float64) bool {
	if e == nil || e.Expr == nil {
		return false
	}
	num, ok := e.Expr.(*ast.NumberLiteral)
	return ok && num.Value == val
}

func memberPropName(mp *ast.MemberProperty) (string, bool) {
	if mp == nil || mp.Prop == nil {
		return "", false
	}
	switch p := mp.Prop.(type) {
	case *ast.Identifier:
		return p.Name, true
	case *ast.ComputedProperty:
		if p.Expr == nil {
			return "", false
		}
		if key, ok := p.Expr.Expr.(*ast.StringLiteral); ok {
			return key.Value, true
		}
		return "", false
	default:
		return "", false
	}
}
