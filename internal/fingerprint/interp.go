package fingerprint

import (
	"github.com/t14raptor/go-fast/ast"
)

// Helpers holds the obfuscated identifier names bound to the
// interpreter's helper functions. Handlers call these by name.
type Helpers struct {
	Push       string
	Pop        string
	ReadByte   string
	ReadDword  string
	ReadDouble string
}

// StateFields holds the obfuscated property names of the interpreter's
// state object.
type StateFields struct {
	Stack     string
	Scopes    string
	Strings   string
	Arguments string
	ThisRef   string
	Global    string
}

// Interpreter is the parsed representation of the embedded interpreter:
// the numeric-keyed dispatch table, the dispatcher's main function, and
// the recovered helper/state names. The fingerprinter never executes any
// of it.
type Interpreter struct {
	Handlers   map[int]*ast.FunctionLiteral
	Dispatcher *ast.FunctionLiteral
	StateName  string
	Helpers    Helpers
	State      StateFields
}
