//  Copyright (c) 2025 Pathsense Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse deserializes the compact textual CFG form. The format is
// line-oriented:
//
//	# comment
//	func main(argc, argv, envp) {
//	  var buf            # automatic storage (default)
//	  var tz static
//	b0:
//	  x = getenv("HOME")
//	  y = *x
//	  *p = 0
//	  putenv(&buf)
//	  if x goto b1 else b2
//	b1:
//	  goto b0
//	b2:
//	  return
//	}
//
// Blocks start at "label:" lines; a block without a goto/if/return falls
// through to the next block in textual order, and the last block exits the
// function. Expressions are identifiers, integer and string literals,
// calls, and the prefix operators & (address of a declared object),
// * (dereference), and ! (negation).
func Parse(filename string, src []byte) (*Program, error) {
	p := &parser{file: filename, lines: strings.Split(string(src), "\n")}
	prog := NewProgram()
	for p.next() {
		line := p.text()
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			// skip
		case strings.HasPrefix(line, "func "):
			fn, err := p.parseFunc(line)
			if err != nil {
				return nil, err
			}
			if err := prog.Add(fn); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", p.file, p.line, err)
			}
		default:
			return nil, p.errf("expected function declaration, got %q", line)
		}
	}
	return prog, nil
}

type parser struct {
	file  string
	lines []string
	line  int // 1-based, line just consumed by next
}

func (p *parser) next() bool {
	if p.line >= len(p.lines) {
		return false
	}
	p.line++
	return true
}

func (p *parser) text() string {
	s := p.lines[p.line-1]
	if i := strings.Index(s, "#"); i >= 0 && !strings.Contains(s[:i], `"`) {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", p.file, p.line, fmt.Sprintf(format, args...))
}

func (p *parser) pos() Pos { return Pos{File: p.file, Line: p.line, Col: 1} }

// pending terminator of a block under construction.
type terminator struct {
	cond         Expr   // non-nil for "if"
	trueT, falsT string // label targets; trueT doubles as the goto target
	isReturn     bool
	set          bool
}

func (p *parser) parseFunc(header string) (*Function, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(header, "func "))
	open := strings.Index(rest, "(")
	closing := strings.LastIndex(rest, ")")
	if open < 0 || closing < open || !strings.HasSuffix(rest, "{") {
		return nil, p.errf("malformed function header %q", header)
	}
	fn := &Function{Name: strings.TrimSpace(rest[:open]), P: p.pos()}
	if fn.Name == "" || !isIdent(fn.Name) {
		return nil, p.errf("malformed function name in %q", header)
	}
	if params := strings.TrimSpace(rest[open+1 : closing]); params != "" {
		for _, prm := range strings.Split(params, ",") {
			prm = strings.TrimSpace(prm)
			if !isIdent(prm) {
				return nil, p.errf("malformed parameter %q", prm)
			}
			fn.Params = append(fn.Params, prm)
		}
	}

	var (
		cur   *Block
		terms []terminator // parallel to fn.Blocks
	)
	startBlock := func(label string) {
		cur = &Block{Label: label, Index: len(fn.Blocks)}
		fn.Blocks = append(fn.Blocks, cur)
		terms = append(terms, terminator{})
	}

	for p.next() {
		line := p.text()
		switch {
		case line == "":
			continue
		case line == "}":
			return fn, p.resolve(fn, terms)
		case strings.HasPrefix(line, "var "):
			d, err := p.parseDecl(line)
			if err != nil {
				return nil, err
			}
			fn.Decls = append(fn.Decls, d)
			continue
		case strings.HasSuffix(line, ":") && isIdent(strings.TrimSuffix(line, ":")):
			startBlock(strings.TrimSuffix(line, ":"))
			continue
		}

		if cur == nil {
			startBlock("entry")
		}
		if terms[cur.Index].set {
			return nil, p.errf("statement after block terminator in %q", cur.Label)
		}
		term, err := p.parseStmt(line, cur)
		if err != nil {
			return nil, err
		}
		if term != nil {
			terms[cur.Index] = *term
		}
	}
	return nil, p.errf("unexpected end of input in function %q", fn.Name)
}

func (p *parser) parseDecl(line string) (Decl, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "var "))
	if len(fields) == 0 || len(fields) > 2 || !isIdent(fields[0]) {
		return Decl{}, p.errf("malformed declaration %q", line)
	}
	d := Decl{Name: fields[0], Storage: StorageAuto, P: p.pos()}
	if len(fields) == 2 {
		switch fields[1] {
		case "auto":
			d.Storage = StorageAuto
		case "static":
			d.Storage = StorageStatic
		case "heap":
			d.Storage = StorageHeap
		default:
			return Decl{}, p.errf("unknown storage class %q", fields[1])
		}
	}
	return d, nil
}

// parseStmt appends a statement to cur or returns the block terminator.
func (p *parser) parseStmt(line string, cur *Block) (*terminator, error) {
	pos := p.pos()
	switch {
	case line == "return":
		cur.Stmts = append(cur.Stmts, &Ret{P: pos})
		return &terminator{isReturn: true, set: true}, nil

	case strings.HasPrefix(line, "return "):
		val, err := p.parseExpr(strings.TrimPrefix(line, "return "))
		if err != nil {
			return nil, err
		}
		cur.Stmts = append(cur.Stmts, &Ret{P: pos, Value: val})
		return &terminator{isReturn: true, set: true}, nil

	case strings.HasPrefix(line, "goto "):
		target := strings.TrimSpace(strings.TrimPrefix(line, "goto "))
		if !isIdent(target) {
			return nil, p.errf("malformed goto target %q", target)
		}
		return &terminator{trueT: target, set: true}, nil

	case strings.HasPrefix(line, "if "):
		rest := strings.TrimPrefix(line, "if ")
		gi := strings.Index(rest, " goto ")
		if gi < 0 {
			return nil, p.errf("malformed branch %q", line)
		}
		cond, err := p.parseExpr(rest[:gi])
		if err != nil {
			return nil, err
		}
		targets := strings.Split(rest[gi+len(" goto "):], " else ")
		if len(targets) != 2 || !isIdent(strings.TrimSpace(targets[0])) || !isIdent(strings.TrimSpace(targets[1])) {
			return nil, p.errf("malformed branch targets in %q", line)
		}
		return &terminator{
			cond:  cond,
			trueT: strings.TrimSpace(targets[0]),
			falsT: strings.TrimSpace(targets[1]),
			set:   true,
		}, nil
	}

	// Assignment or bare expression. An assignment has a top-level "=" that
	// is not inside a string literal; the LHS is either an identifier or a
	// *expr store target.
	if lhs, rhs, ok := splitAssign(line); ok {
		rhsExpr, err := p.parseExpr(rhs)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(lhs, "*") {
			target, err := p.parseExpr(strings.TrimPrefix(lhs, "*"))
			if err != nil {
				return nil, err
			}
			cur.Stmts = append(cur.Stmts, &Store{P: pos, Target: target, Value: rhsExpr})
			return nil, nil
		}
		if !isIdent(lhs) {
			return nil, p.errf("malformed assignment target %q", lhs)
		}
		cur.Stmts = append(cur.Stmts, &Assign{P: pos, Name: lhs, RHS: rhsExpr})
		return nil, nil
	}

	x, err := p.parseExpr(line)
	if err != nil {
		return nil, err
	}
	cur.Stmts = append(cur.Stmts, &Eval{P: pos, X: x})
	return nil, nil
}

// resolve wires block successors from the recorded terminators.
func (p *parser) resolve(fn *Function, terms []terminator) error {
	byLabel := make(map[string]*Block, len(fn.Blocks))
	for _, b := range fn.Blocks {
		if byLabel[b.Label] != nil {
			return fmt.Errorf("%s: duplicate block label %q in %q", p.file, b.Label, fn.Name)
		}
		byLabel[b.Label] = b
	}
	lookup := func(label string) (*Block, error) {
		b := byLabel[label]
		if b == nil {
			return nil, fmt.Errorf("%s: undefined block label %q in %q", p.file, label, fn.Name)
		}
		return b, nil
	}
	for i, b := range fn.Blocks {
		t := terms[i]
		switch {
		case t.isReturn:
			// exits
		case t.cond != nil:
			tt, err := lookup(t.trueT)
			if err != nil {
				return err
			}
			ft, err := lookup(t.falsT)
			if err != nil {
				return err
			}
			b.Cond = t.cond
			b.Succs = []*Block{tt, ft}
		case t.set:
			target, err := lookup(t.trueT)
			if err != nil {
				return err
			}
			b.Succs = []*Block{target}
		case i+1 < len(fn.Blocks):
			b.Succs = []*Block{fn.Blocks[i+1]}
		}
	}
	return nil
}

func (p *parser) parseExpr(s string) (Expr, error) {
	ep := &exprParser{file: p.file, line: p.line, s: strings.TrimSpace(s)}
	e, err := ep.parse()
	if err != nil {
		return nil, err
	}
	ep.skipSpace()
	if ep.i < len(ep.s) {
		return nil, ep.errf("trailing input %q", ep.s[ep.i:])
	}
	return e, nil
}

type exprParser struct {
	file string
	line int
	s    string
	i    int
}

func (ep *exprParser) errf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", ep.file, ep.line, fmt.Sprintf(format, args...))
}

func (ep *exprParser) pos() Pos { return Pos{File: ep.file, Line: ep.line, Col: ep.i + 1} }

func (ep *exprParser) skipSpace() {
	for ep.i < len(ep.s) && (ep.s[ep.i] == ' ' || ep.s[ep.i] == '\t') {
		ep.i++
	}
}

func (ep *exprParser) parse() (Expr, error) {
	ep.skipSpace()
	if ep.i >= len(ep.s) {
		return nil, ep.errf("expected expression")
	}
	pos := ep.pos()
	switch ep.s[ep.i] {
	case '&':
		ep.i++
		name := ep.ident()
		if name == "" {
			return nil, ep.errf("expected identifier after '&'")
		}
		return &AddrOf{P: pos, Name: name}, nil
	case '*':
		ep.i++
		x, err := ep.parse()
		if err != nil {
			return nil, err
		}
		return &Deref{P: pos, X: x}, nil
	case '!':
		ep.i++
		x, err := ep.parse()
		if err != nil {
			return nil, err
		}
		return &Not{P: pos, X: x}, nil
	case '"':
		return ep.stringLit()
	}
	if c := ep.s[ep.i]; c >= '0' && c <= '9' || c == '-' {
		start := ep.i
		ep.i++
		for ep.i < len(ep.s) && ep.s[ep.i] >= '0' && ep.s[ep.i] <= '9' {
			ep.i++
		}
		v, err := strconv.ParseInt(ep.s[start:ep.i], 10, 64)
		if err != nil {
			return nil, ep.errf("malformed integer %q", ep.s[start:ep.i])
		}
		return &IntLit{P: pos, Value: v}, nil
	}
	name := ep.ident()
	if name == "" {
		return nil, ep.errf("unexpected character %q", ep.s[ep.i])
	}
	ep.skipSpace()
	if ep.i < len(ep.s) && ep.s[ep.i] == '(' {
		return ep.call(pos, name)
	}
	return &Var{P: pos, Name: name}, nil
}

func (ep *exprParser) call(pos Pos, callee string) (Expr, error) {
	ep.i++ // consume '('
	call := &Call{P: pos, Callee: callee}
	ep.skipSpace()
	if ep.i < len(ep.s) && ep.s[ep.i] == ')' {
		ep.i++
		return call, nil
	}
	for {
		arg, err := ep.parse()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		ep.skipSpace()
		if ep.i >= len(ep.s) {
			return nil, ep.errf("unterminated call to %q", callee)
		}
		switch ep.s[ep.i] {
		case ',':
			ep.i++
		case ')':
			ep.i++
			return call, nil
		default:
			return nil, ep.errf("unexpected character %q in call to %q", ep.s[ep.i], callee)
		}
	}
}

func (ep *exprParser) stringLit() (Expr, error) {
	pos := ep.pos()
	start := ep.i
	ep.i++
	for ep.i < len(ep.s) && ep.s[ep.i] != '"' {
		ep.i++
	}
	if ep.i >= len(ep.s) {
		return nil, ep.errf("unterminated string literal")
	}
	ep.i++
	return &StrLit{P: pos, Value: ep.s[start+1 : ep.i-1]}, nil
}

func (ep *exprParser) ident() string {
	start := ep.i
	for ep.i < len(ep.s) && isIdentChar(ep.s[ep.i], ep.i > start) {
		ep.i++
	}
	return ep.s[start:ep.i]
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentChar(s[i], i > 0) {
			return false
		}
	}
	return true
}

func isIdentChar(c byte, interior bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9':
		return interior
	}
	return false
}

// splitAssign splits "lhs = rhs" at the first top-level '=' outside string
// literals and call parentheses.
func splitAssign(line string) (lhs, rhs string, ok bool) {
	depth, inStr := 0, false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case inStr:
			if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '=' && depth == 0:
			return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
		}
	}
	return "", "", false
}
