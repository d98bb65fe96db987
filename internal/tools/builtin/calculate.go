package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/normanking/concierge/internal/tools"
)

// CalculatorTool evaluates arithmetic expressions.
type CalculatorTool struct{}

// NewCalculatorTool creates the calculate tool.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculate" }

func (t *CalculatorTool) Description() string {
	return "Evaluate an arithmetic expression with + - * / % ^, parentheses, pi, e and sqrt/abs/round/ln/log."
}

func (t *CalculatorTool) Parameters() map[string]any {
	return schema(map[string]any{
		"expression": prop("string", "The expression, e.g. (1200 * 0.15) / 12"),
	}, "expression")
}

func (t *CalculatorTool) Execute(_ context.Context, args map[string]any) (*tools.Output, error) {
	expr, err := requiredString(args, "expression")
	if err != nil {
		return nil, err
	}
	v, err := Evaluate(expr)
	if err != nil {
		return nil, err
	}
	return &tools.Output{
		Message: fmt.Sprintf("%s = %s", expr, strconv.FormatFloat(v, 'g', 12, 64)),
		Data:    map[string]any{"expression": expr, "result": v},
	}, nil
}

// Evaluate computes an arithmetic expression. ^ is right-associative and
// binds tighter than unary minus, so -2^2 is -4.
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: expr}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("invalid expression: unexpected %q at %d", p.src[p.pos], p.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid expression: result is not a finite number")
	}
	return v, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// expr := term (('+' | '-') term)*
func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

// term := unary (('*' | '/' | '%') unary)*
func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("invalid expression: division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, fmt.Errorf("invalid expression: modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

// unary := ('-' | '+') unary | power
func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePower()
}

// power := primary ('^' unary)?
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

var functions = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"abs":   math.Abs,
	"round": math.Round,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"ln":    math.Log,
	"log":   math.Log10,
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// primary := number | '(' expr ')' | ident | ident '(' expr ')'
func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("invalid expression: missing closing parenthesis")
		}
		p.pos++
		return v, nil

	case c == '.' || (c >= '0' && c <= '9'):
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] == '.' || p.src[p.pos] == ',' || unicode.IsDigit(rune(p.src[p.pos]))) {
			p.pos++
		}
		lit := strings.ReplaceAll(p.src[start:p.pos], ",", "")
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid expression: bad number %q", lit)
		}
		return v, nil

	case unicode.IsLetter(rune(c)):
		start := p.pos
		for p.pos < len(p.src) && unicode.IsLetter(rune(p.src[p.pos])) {
			p.pos++
		}
		name := strings.ToLower(p.src[start:p.pos])
		if fn, ok := functions[name]; ok {
			if p.peek() != '(' {
				return 0, fmt.Errorf("invalid expression: %s needs parentheses", name)
			}
			arg, err := p.parsePrimary()
			if err != nil {
				return 0, err
			}
			return fn(arg), nil
		}
		if v, ok := constants[name]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("invalid expression: unknown name %q", name)

	case c == 0:
		return 0, fmt.Errorf("invalid expression: unexpected end")

	default:
		return 0, fmt.Errorf("invalid expression: unexpected %q", c)
	}
}
