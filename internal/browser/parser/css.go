// internal/browser/parser/css.go
package parser

import (
	"fmt"
	"strings"
)

// Property is a lower-cased CSS property name (e.g. "padding-bottom").
type Property string

// Value is the raw, trimmed text of a declaration value.
type Value string

// Declaration is one `property: value` pair.
type Declaration struct {
	Property  Property
	Value     Value
	Important bool
}

// RuleSet binds a selector group to its declaration block.
type RuleSet struct {
	Selectors    SelectorGroup
	Declarations []Declaration
}

// StyleSheet is a parsed sheet. At-rules are dropped during parsing.
type StyleSheet struct {
	Rules []RuleSet
}

// SelectorGroup is a comma separated selector list.
type SelectorGroup []ComplexSelector

// ComplexSelector is a chain of compound selectors joined by combinators,
// stored left to right.
type ComplexSelector struct {
	Parts []CompoundPart
}

// CompoundPart pairs a compound selector with the combinator that links it to
// the part on its left. The first part always carries CombinatorNone.
type CompoundPart struct {
	Combinator Combinator
	Compound   SimpleSelector
}

// SimpleSelector is a compound selector: an optional tag followed by any number
// of id, class, attribute and pseudo-class conditions.
type SimpleSelector struct {
	TagName    string
	ID         string
	Classes    []string
	Attributes []AttributeSelector
	Pseudo     []string
}

// AttributeSelector is `[name]` or `[name op value]`.
type AttributeSelector struct {
	Name     string
	Operator string
	Value    string
}

// Combinator relates two compound selectors.
type Combinator int

const (
	CombinatorNone Combinator = iota
	CombinatorDescendant
	CombinatorChild
	CombinatorAdjacentSibling
	CombinatorGeneralSibling
)

// Specificity is the (id, class, type) triple of a selector.
type Specificity [3]int

// Less orders specificities lexicographically.
func (s Specificity) Less(o Specificity) bool {
	for i := range s {
		if s[i] != o[i] {
			return s[i] < o[i]
		}
	}
	return false
}

// Specificity sums the specificity of every compound part.
func (cs ComplexSelector) Specificity() Specificity {
	var total Specificity
	for _, p := range cs.Parts {
		sp := p.Compound.Specificity()
		total[0] += sp[0]
		total[1] += sp[1]
		total[2] += sp[2]
	}
	return total
}

// Specificity of one compound selector. Pseudo-classes weigh like classes.
func (s SimpleSelector) Specificity() Specificity {
	var sp Specificity
	if s.ID != "" {
		sp[0] = 1
	}
	sp[1] = len(s.Classes) + len(s.Attributes) + len(s.Pseudo)
	if s.TagName != "" && s.TagName != "*" {
		sp[2] = 1
	}
	return sp
}

func (s SimpleSelector) empty() bool {
	return s.TagName == "" && s.ID == "" && len(s.Classes) == 0 && len(s.Attributes) == 0 && len(s.Pseudo) == 0
}

// Parse reads a full stylesheet. Malformed rules are skipped rather than
// failing the sheet, matching how browsers recover.
func Parse(src string) StyleSheet {
	return NewParser(src).Parse()
}

// ParseSelectorGroup parses a standalone selector list such as the argument of
// querySelectorAll.
func ParseSelectorGroup(src string) (SelectorGroup, error) {
	p := NewParser(src)
	group := p.selectorGroup()
	p.skipSpace()
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q at offset %d in selector %q", p.peek(), p.pos, src)
	}
	if len(group) == 0 {
		return nil, fmt.Errorf("empty selector %q", src)
	}
	return group, nil
}

// MustParseSelectorGroup is ParseSelectorGroup for static rule tables.
func MustParseSelectorGroup(src string) SelectorGroup {
	g, err := ParseSelectorGroup(src)
	if err != nil {
		panic(err)
	}
	return g
}

// ParseDeclarations parses the body of a `style` attribute.
func ParseDeclarations(src string) []Declaration {
	p := NewParser(src)
	return p.declarationList(false)
}

// Parser is a hand written recursive descent parser over a CSS string.
type Parser struct {
	src string
	pos int
}

func NewParser(src string) *Parser {
	return &Parser{src: src}
}

// Parse consumes the whole input.
func (p *Parser) Parse() StyleSheet {
	var sheet StyleSheet
	for {
		p.skipSpaceAndComments()
		if p.done() {
			return sheet
		}
		switch p.peek() {
		case '@':
			p.skipAtRule()
			continue
		case '}':
			// Stray closer from a broken rule.
			p.pos++
			continue
		}

		group := p.selectorGroup()
		p.skipSpaceAndComments()
		if p.done() {
			return sheet
		}
		if p.peek() != '{' {
			p.skipUntil('{')
			if p.done() {
				return sheet
			}
			p.pos++
			p.skipBalanced('{', '}')
			continue
		}
		p.pos++
		decls := p.declarationList(true)
		if len(group) > 0 && len(decls) > 0 {
			sheet.Rules = append(sheet.Rules, RuleSet{Selectors: group, Declarations: decls})
		}
	}
}

// -- Selectors --

func (p *Parser) selectorGroup() SelectorGroup {
	var group SelectorGroup
	for {
		p.skipSpaceAndComments()
		cs, ok := p.complexSelector()
		if ok {
			group = append(group, cs)
		}
		p.skipSpaceAndComments()
		if p.done() || p.peek() != ',' {
			return group
		}
		p.pos++
	}
}

func (p *Parser) complexSelector() (ComplexSelector, bool) {
	var cs ComplexSelector
	comb := CombinatorNone
	valid := true
	for {
		compound, ok := p.compound()
		if !ok {
			break
		}
		if compound.empty() {
			valid = false
		}
		cs.Parts = append(cs.Parts, CompoundPart{Combinator: comb, Compound: compound})

		sawSpace := p.skipSpaceAndComments()
		if p.done() {
			break
		}
		switch p.peek() {
		case '>':
			comb = CombinatorChild
			p.pos++
		case '+':
			comb = CombinatorAdjacentSibling
			p.pos++
		case '~':
			comb = CombinatorGeneralSibling
			p.pos++
		case ',', '{', ')':
			return cs, valid && len(cs.Parts) > 0
		default:
			if !sawSpace {
				// Garbage glued to a compound selector invalidates the whole selector.
				p.skipUntil(',', '{')
				return cs, false
			}
			comb = CombinatorDescendant
		}
		p.skipSpaceAndComments()
	}
	return cs, valid && len(cs.Parts) > 0
}

// compound reads `tag#id.class[attr]:pseudo`. It returns false when nothing
// selector-like starts at the cursor.
func (p *Parser) compound() (SimpleSelector, bool) {
	var s SimpleSelector
	start := p.pos
	if !p.done() {
		switch c := p.peek(); {
		case c == '*':
			p.pos++
			s.TagName = "*"
		case isIdentStart(c):
			s.TagName = strings.ToLower(p.ident())
		}
	}
	for !p.done() {
		switch p.peek() {
		case '#':
			p.pos++
			s.ID = p.ident()
		case '.':
			p.pos++
			s.Classes = append(s.Classes, p.ident())
		case '[':
			p.pos++
			attr, err := p.attribute()
			if err != nil {
				return SimpleSelector{}, p.pos > start
			}
			s.Attributes = append(s.Attributes, attr)
		case ':':
			p.pos++
			if !p.done() && p.peek() == ':' {
				p.pos++
			}
			name := strings.ToLower(p.ident())
			if !p.done() && p.peek() == '(' {
				argStart := p.pos
				p.pos++
				p.skipBalanced('(', ')')
				name += p.src[argStart:p.pos]
			}
			s.Pseudo = append(s.Pseudo, name)
		default:
			return s, p.pos > start
		}
	}
	return s, p.pos > start
}

func (p *Parser) attribute() (AttributeSelector, error) {
	p.skipSpace()
	name := strings.ToLower(p.ident())
	if name == "" {
		p.skipUntil(']')
		p.advance()
		return AttributeSelector{}, fmt.Errorf("attribute selector without a name")
	}
	p.skipSpace()
	if p.done() {
		return AttributeSelector{}, fmt.Errorf("unterminated attribute selector")
	}
	if p.peek() == ']' {
		p.pos++
		return AttributeSelector{Name: name}, nil
	}

	var op string
	switch c := p.peek(); c {
	case '=':
		op = "="
		p.pos++
	case '~', '|', '^', '$', '*':
		if p.pos+1 < len(p.src) && p.src[p.pos+1] == '=' {
			op = string(c) + "="
			p.pos += 2
		}
	}
	if op == "" {
		p.skipUntil(']')
		p.advance()
		return AttributeSelector{}, fmt.Errorf("unknown attribute operator at offset %d", p.pos)
	}

	p.skipSpace()
	var val string
	if !p.done() && (p.peek() == '"' || p.peek() == '\'') {
		val = p.quoted()
	} else {
		start := p.pos
		for !p.done() && p.peek() != ']' && !isSpace(p.peek()) {
			p.pos++
		}
		val = p.src[start:p.pos]
	}
	p.skipSpace()
	// Case flag ([attr=val i]) is accepted and ignored.
	if !p.done() && (p.peek() == 'i' || p.peek() == 's') {
		p.pos++
		p.skipSpace()
	}
	if p.done() || p.peek() != ']' {
		p.skipUntil(']')
		p.advance()
		return AttributeSelector{}, fmt.Errorf("expected ']' in attribute selector")
	}
	p.pos++
	return AttributeSelector{Name: name, Operator: op, Value: val}, nil
}

// -- Declarations --

// declarationList reads declarations until '}' (when braced) or end of input.
func (p *Parser) declarationList(braced bool) []Declaration {
	var out []Declaration
	for {
		p.skipSpaceAndComments()
		if p.done() {
			return out
		}
		c := p.peek()
		if c == '}' {
			if braced {
				p.pos++
				return out
			}
			p.pos++
			continue
		}
		if c == ';' {
			p.pos++
			continue
		}
		if d, ok := p.declaration(); ok {
			out = append(out, d)
		}
	}
}

func (p *Parser) declaration() (Declaration, bool) {
	if !isIdentStart(p.peek()) {
		p.skipUntil(';', '}')
		return Declaration{}, false
	}
	prop := strings.ToLower(p.ident())
	p.skipSpaceAndComments()
	if p.done() || p.peek() != ':' {
		p.skipUntil(';', '}')
		return Declaration{}, false
	}
	p.pos++
	p.skipSpace()

	start := p.pos
	for !p.done() {
		c := p.peek()
		if c == ';' || c == '}' {
			break
		}
		switch c {
		case '"', '\'':
			p.quoted()
		case '(':
			p.pos++
			p.skipBalanced('(', ')')
		default:
			p.pos++
		}
	}
	val := strings.TrimSpace(p.src[start:p.pos])

	important := false
	if i := strings.LastIndex(val, "!"); i >= 0 && strings.EqualFold(strings.TrimSpace(val[i+1:]), "important") {
		important = true
		val = strings.TrimSpace(val[:i])
	}
	if val == "" {
		return Declaration{}, false
	}
	return Declaration{Property: Property(prop), Value: Value(val), Important: important}, true
}

// -- Scanner helpers --

func (p *Parser) done() bool { return p.pos >= len(p.src) }

func (p *Parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *Parser) advance() {
	if !p.done() {
		p.pos++
	}
}

func (p *Parser) skipSpace() bool {
	start := p.pos
	for !p.done() && isSpace(p.peek()) {
		p.pos++
	}
	return p.pos > start
}

func (p *Parser) skipSpaceAndComments() bool {
	skipped := false
	for {
		if p.skipSpace() {
			skipped = true
		}
		if !strings.HasPrefix(p.src[p.pos:], "/*") {
			return skipped
		}
		end := strings.Index(p.src[p.pos+2:], "*/")
		if end < 0 {
			p.pos = len(p.src)
			return true
		}
		p.pos += end + 4
		skipped = true
	}
}

func (p *Parser) skipUntil(stops ...byte) {
	for !p.done() {
		if strings.IndexByte(string(stops), p.peek()) >= 0 {
			return
		}
		p.pos++
	}
}

// skipBalanced assumes the opener was consumed and stops after the matching closer.
func (p *Parser) skipBalanced(open, closer byte) {
	depth := 1
	for !p.done() {
		c := p.peek()
		switch {
		case c == '"' || c == '\'':
			p.quoted()
			continue
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				p.pos++
				return
			}
		}
		p.pos++
	}
}

func (p *Parser) skipAtRule() {
	p.pos++
	for !p.done() {
		switch p.peek() {
		case ';':
			p.pos++
			return
		case '{':
			p.pos++
			p.skipBalanced('{', '}')
			return
		}
		p.pos++
	}
}

// quoted consumes a quoted string and returns its unescaped body.
func (p *Parser) quoted() string {
	q := p.peek()
	p.pos++
	var b strings.Builder
	for !p.done() {
		c := p.peek()
		p.pos++
		switch c {
		case '\\':
			if !p.done() {
				b.WriteByte(p.peek())
				p.pos++
			}
		case q:
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (p *Parser) ident() string {
	start := p.pos
	for !p.done() {
		c := p.peek()
		if c == '\\' && p.pos+1 < len(p.src) {
			p.pos += 2
			continue
		}
		if !isIdentChar(c) {
			break
		}
		p.pos++
	}
	return strings.ReplaceAll(p.src[start:p.pos], `\`, "")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '-' || c == '\\' || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
