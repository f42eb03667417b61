package dispatch

import (
	"strconv"
	"strings"

	"browserd/internal/apperr"
)

// ParseLine parses the tolerant one-line string form of a command, e.g.
//
//	page.click({position:{x:795,y:60}})
//	await page.fill('#email', 'a@b.com')
//	page.wait_for_selector('.result', state='visible', timeout=5000)
//	page.mouse.click(400.5, 200)
//
// into a Command. It is a small hand-rolled tokenizer and recursive-descent
// parser, not a JS parser: it understands call syntax, string/number/bool
// literals, nested {key:value} object literals (one level deep, enough for
// the {position:{x,y}} shape), and name=value keyword arguments. Any
// deviation returns apperr.UnparsableLine carrying the byte offset of the
// failure, per the one-line-form design note.
func ParseLine(line string) (Command, error) {
	p := &parser{src: line}
	p.skipPrefix("await")
	p.skipSpaces()
	if !p.consumeLiteral("page.") {
		return Command{}, p.fail("expected \"page.\"")
	}
	var name string
	if p.consumeLiteral("mouse.click") {
		name = string(MouseClickXY)
	} else {
		name = p.readIdent()
	}
	if name == "" {
		return Command{}, p.fail("expected method name")
	}
	p.skipSpaces()
	if !p.consumeByte('(') {
		return Command{}, p.fail("expected '('")
	}
	args, err := p.parseArgList()
	if err != nil {
		return Command{}, err
	}
	p.skipSpaces()
	if !p.consumeByte(')') {
		return Command{}, p.fail("expected ')'")
	}
	p.skipSpaces()
	if p.pos != len(p.src) {
		return Command{}, p.fail("unexpected trailing input")
	}

	return buildCommand(Name(name), args, p)
}

// argValue is either a scalar (string/number/bool) or a nested object
// (only {position:{x,y}} is interpreted).
type argValue struct {
	keyword string // empty for positional
	str     string
	isStr   bool
	num     float64
	isNum   bool
	x, y    float64
	isPoint bool
}

type parser struct {
	src string
	pos int
}

func (p *parser) fail(reason string) error {
	return apperr.New(apperr.UnparsableLine, reason).WithDetails(map[string]any{"offset": p.pos})
}

func (p *parser) skipPrefix(word string) {
	p.skipSpaces()
	if strings.HasPrefix(p.src[p.pos:], word+" ") {
		p.pos += len(word) + 1
	}
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) consumeLiteral(lit string) bool {
	if strings.HasPrefix(p.src[p.pos:], lit) {
		p.pos += len(lit)
		return true
	}
	return false
}

func (p *parser) consumeByte(b byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == b {
		p.pos++
		return true
	}
	return false
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) readIdent() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *parser) readString() (string, bool) {
	if p.pos >= len(p.src) {
		return "", false
	}
	quote := p.src[p.pos]
	if quote != '\'' && quote != '"' {
		return "", false
	}
	start := p.pos + 1
	i := start
	for i < len(p.src) && p.src[i] != quote {
		i++
	}
	if i >= len(p.src) {
		return "", false
	}
	p.pos = i + 1
	return p.src[start:i], true
}

func (p *parser) readNumber() (float64, bool) {
	start := p.pos
	i := p.pos
	if i < len(p.src) && (p.src[i] == '-' || p.src[i] == '+') {
		i++
	}
	for i < len(p.src) && (p.src[i] >= '0' && p.src[i] <= '9' || p.src[i] == '.') {
		i++
	}
	if i == start {
		return 0, false
	}
	n, err := strconv.ParseFloat(p.src[start:i], 64)
	if err != nil {
		return 0, false
	}
	p.pos = i
	return n, true
}

// parseArgList parses comma-separated args up to (not consuming) ')'.
func (p *parser) parseArgList() ([]argValue, error) {
	var args []argValue
	p.skipSpaces()
	if p.peek() == ')' {
		return args, nil
	}
	for {
		p.skipSpaces()
		v, err := p.parseOneArg()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		p.skipSpaces()
		if p.consumeByte(',') {
			continue
		}
		break
	}
	return args, nil
}

func (p *parser) parseOneArg() (argValue, error) {
	// keyword=value ?
	save := p.pos
	ident := p.readIdent()
	p.skipSpaces()
	if ident != "" && p.consumeByte('=') {
		p.skipSpaces()
		v, err := p.parseScalarOrObject()
		if err != nil {
			return argValue{}, err
		}
		v.keyword = ident
		return v, nil
	}
	p.pos = save
	return p.parseScalarOrObject()
}

func (p *parser) parseScalarOrObject() (argValue, error) {
	p.skipSpaces()
	switch {
	case p.peek() == '\'' || p.peek() == '"':
		s, ok := p.readString()
		if !ok {
			return argValue{}, p.fail("unterminated string")
		}
		return argValue{str: s, isStr: true}, nil
	case p.peek() == '{':
		return p.parseObject()
	case p.peek() == '-' || p.peek() == '+' || (p.peek() >= '0' && p.peek() <= '9'):
		n, ok := p.readNumber()
		if !ok {
			return argValue{}, p.fail("invalid number")
		}
		return argValue{num: n, isNum: true}, nil
	default:
		ident := p.readIdent()
		switch ident {
		case "true":
			return argValue{num: 1, isNum: true}, nil
		case "false":
			return argValue{num: 0, isNum: true}, nil
		case "":
			return argValue{}, p.fail("expected argument")
		default:
			return argValue{str: ident, isStr: true}, nil
		}
	}
}

// parseObject parses {position:{x:N,y:N}} — the only object shape the
// dispatcher understands from the one-line form.
func (p *parser) parseObject() (argValue, error) {
	if !p.consumeByte('{') {
		return argValue{}, p.fail("expected '{'")
	}
	p.skipSpaces()
	key := p.readIdent()
	if key != "position" {
		return argValue{}, p.fail("unsupported object key " + key)
	}
	p.skipSpaces()
	if !p.consumeByte(':') {
		return argValue{}, p.fail("expected ':'")
	}
	p.skipSpaces()
	if !p.consumeByte('{') {
		return argValue{}, p.fail("expected nested '{'")
	}
	coords := map[string]float64{}
	for {
		p.skipSpaces()
		k := p.readIdent()
		if k == "" {
			return argValue{}, p.fail("expected coordinate key")
		}
		p.skipSpaces()
		if !p.consumeByte(':') {
			return argValue{}, p.fail("expected ':'")
		}
		p.skipSpaces()
		n, ok := p.readNumber()
		if !ok {
			return argValue{}, p.fail("expected coordinate number")
		}
		coords[k] = n
		p.skipSpaces()
		if p.consumeByte(',') {
			continue
		}
		break
	}
	if !p.consumeByte('}') {
		return argValue{}, p.fail("expected nested '}'")
	}
	p.skipSpaces()
	if !p.consumeByte('}') {
		return argValue{}, p.fail("expected '}'")
	}
	x, hasX := coords["x"]
	y, hasY := coords["y"]
	if !hasX || !hasY {
		return argValue{}, p.fail("position requires x and y")
	}
	return argValue{isPoint: true, x: x, y: y}, nil
}

// buildCommand maps the parsed method name and positional/keyword args onto
// the Command shape the dispatch table expects.
func buildCommand(name Name, args []argValue, p *parser) (Command, error) {
	cmd := Command{Name: name}

	positional := make([]argValue, 0, len(args))
	byKeyword := map[string]argValue{}
	for _, a := range args {
		if a.keyword != "" {
			byKeyword[a.keyword] = a
		} else {
			positional = append(positional, a)
		}
	}
	pos := func(i int) (argValue, bool) {
		if i < len(positional) {
			return positional[i], true
		}
		return argValue{}, false
	}

	switch name {
	case Goto:
		if v, ok := pos(0); ok && v.isStr {
			cmd.URL = v.str
		}
		if v, ok := byKeyword["wait_until"]; ok && v.isStr {
			cmd.WaitUntil = v.str
		}
	case Click, MouseClickXY:
		if v, ok := pos(0); ok {
			switch {
			case v.isPoint:
				cmd.HasPosition, cmd.X, cmd.Y = true, v.x, v.y
			case v.isStr:
				cmd.Selector = v.str
			}
		}
		if v, ok := byKeyword["position"]; ok && v.isPoint {
			cmd.HasPosition, cmd.X, cmd.Y = true, v.x, v.y
		}
	case Fill:
		if v, ok := pos(0); ok && v.isStr {
			cmd.Selector = v.str
		}
		if v, ok := pos(1); ok && v.isStr {
			cmd.Value = v.str
		}
	case Type:
		if len(positional) >= 2 {
			if v, ok := pos(0); ok && v.isStr {
				cmd.Selector = v.str
			}
			if v, ok := pos(1); ok && v.isStr {
				cmd.Text = v.str
			}
		} else if v, ok := pos(0); ok && v.isStr {
			cmd.Text = v.str
		}
	case Press:
		if len(positional) >= 2 {
			if v, ok := pos(0); ok && v.isStr {
				cmd.Selector = v.str
			}
			if v, ok := pos(1); ok && v.isStr {
				cmd.Key = v.str
			}
		} else if v, ok := pos(0); ok && v.isStr {
			cmd.Key = v.str
		}
	case SelectOption:
		if v, ok := pos(0); ok && v.isStr {
			cmd.Selector = v.str
		}
		if v, ok := pos(1); ok && v.isStr {
			cmd.Value = v.str
		}
	case WaitForSelector:
		if v, ok := pos(0); ok && v.isStr {
			cmd.Selector = v.str
		}
		if v, ok := byKeyword["state"]; ok && v.isStr {
			cmd.State = v.str
		}
		if v, ok := byKeyword["timeout"]; ok && v.isNum {
			cmd.TimeoutMs = int(v.num)
		}
	case WaitForLoadState:
		if v, ok := pos(0); ok && v.isStr {
			cmd.State = v.str
		}
		if v, ok := byKeyword["state"]; ok && v.isStr {
			cmd.State = v.str
		}
		if v, ok := byKeyword["timeout"]; ok && v.isNum {
			cmd.TimeoutMs = int(v.num)
		}
	case Wait:
		if v, ok := pos(0); ok && v.isNum {
			cmd.WaitMs = int(v.num)
		}
	case Screenshot:
		if v, ok := byKeyword["path"]; ok && v.isStr {
			cmd.Path = v.str
		}
		if v, ok := byKeyword["full_page"]; ok && v.isNum {
			cmd.FullPage = v.num != 0
		}
		if v, ok := byKeyword["format"]; ok && v.isStr {
			cmd.Format = v.str
		}
		if v, ok := byKeyword["quality"]; ok && v.isNum {
			cmd.Quality = int(v.num)
		}
	case Evaluate:
		if v, ok := pos(0); ok && v.isStr {
			cmd.Expression = v.str
		}
	case GetInfo, Reload, Back, Forward:
		// no arguments
	default:
		return Command{}, apperr.Newf(apperr.UnknownCommand, "unknown command %q", name)
	}

	if name == MouseClickXY && !cmd.HasPosition {
		if len(positional) >= 2 {
			x, xok := positional[0], positional[0].isNum
			y, yok := positional[1], positional[1].isNum
			if xok && yok {
				cmd.HasPosition, cmd.X, cmd.Y = true, x.num, y.num
			}
		}
	}

	return cmd, nil
}
