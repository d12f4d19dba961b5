package etl

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/buger/jsonparser"
	"github.com/rotisserie/eris"
)

// ── Structural decode ──────────────────────────────────────
// Two entry points produce Value trees:
//   DecodeJSON    — detail/listing response bodies (key order preserved)
//   DecodeLiteral — text cells that carry an encoded list or mapping,
//                   either JSON or Python-literal notation.

// ErrDecode marks a value that could not be decoded as a structure.
var ErrDecode = eris.New("structural decode failed")

// DecodeJSON decodes a JSON document preserving object key order.
func DecodeJSON(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Null(), eris.Wrap(ErrDecode, "empty document")
	}
	raw, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return Null(), eris.Wrapf(ErrDecode, "parse json: %v", err)
	}
	return decodeJSONValue(raw, typ)
}

func decodeJSONValue(raw []byte, typ jsonparser.ValueType) (Value, error) {
	switch typ {
	case jsonparser.Null:
		return Null(), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Null(), eris.Wrapf(ErrDecode, "parse string: %v", err)
		}
		return String(s), nil
	case jsonparser.Number:
		if n, err := jsonparser.ParseInt(raw); err == nil {
			return Int(n), nil
		}
		f, err := jsonparser.ParseFloat(raw)
		if err != nil {
			return Null(), eris.Wrapf(ErrDecode, "parse number %q: %v", raw, err)
		}
		return Float(f), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Null(), eris.Wrapf(ErrDecode, "parse bool: %v", err)
		}
		return Bool(b), nil
	case jsonparser.Object:
		obj := NewObject()
		err := jsonparser.ObjectEach(raw, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
			k, err := jsonparser.ParseString(key)
			if err != nil {
				return err
			}
			child, err := decodeJSONValue(value, dt)
			if err != nil {
				return err
			}
			obj.Set(k, child)
			return nil
		})
		if err != nil {
			return Null(), eris.Wrapf(ErrDecode, "parse object: %v", err)
		}
		return ObjectValue(obj), nil
	case jsonparser.Array:
		items := []Value{}
		var firstErr error
		_, err := jsonparser.ArrayEach(raw, func(value []byte, dt jsonparser.ValueType, _ int, err error) {
			if firstErr != nil {
				return
			}
			if err != nil {
				firstErr = err
				return
			}
			child, err := decodeJSONValue(value, dt)
			if err != nil {
				firstErr = err
				return
			}
			items = append(items, child)
		})
		if err == nil {
			err = firstErr
		}
		if err != nil {
			return Null(), eris.Wrapf(ErrDecode, "parse array: %v", err)
		}
		return List(items...), nil
	default:
		return Null(), eris.Wrapf(ErrDecode, "unexpected json value type %s", typ)
	}
}

// DecodeLiteral decodes text holding a literal structure. It accepts JSON and
// the Python literal dialect (single quotes, None/True/False, tuples,
// trailing commas). The whole input must be consumed.
func DecodeLiteral(text string) (Value, error) {
	p := &literalParser{src: text}
	p.skipSpace()
	v, err := p.parseValue(0)
	if err != nil {
		return Null(), err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Null(), p.errorf("trailing input")
	}
	return v, nil
}

const maxLiteralDepth = 256

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) errorf(msg string) error {
	return eris.Wrapf(ErrDecode, "%s at offset %d", msg, p.pos)
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) parseValue(depth int) (Value, error) {
	if depth > maxLiteralDepth {
		return Null(), p.errorf("nesting too deep")
	}
	if p.pos >= len(p.src) {
		return Null(), p.errorf("unexpected end of input")
	}
	switch c := p.src[p.pos]; {
	case c == '[':
		return p.parseSequence(depth, '[', ']')
	case c == '(':
		return p.parseSequence(depth, '(', ')')
	case c == '{':
		return p.parseMapping(depth)
	case c == '"' || c == '\'':
		s, err := p.parseString()
		if err != nil {
			return Null(), err
		}
		return String(s), nil
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parseWord()
	}
}

func (p *literalParser) parseSequence(depth int, open, closing byte) (Value, error) {
	p.pos++ // open
	items := []Value{}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Null(), p.errorf("unterminated " + string(open))
		}
		if p.src[p.pos] == closing {
			p.pos++
			return List(items...), nil
		}
		item, err := p.parseValue(depth + 1)
		if err != nil {
			return Null(), err
		}
		items = append(items, item)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] == closing {
			continue
		}
		return Null(), p.errorf("expected ',' or '" + string(closing) + "'")
	}
}

func (p *literalParser) parseMapping(depth int) (Value, error) {
	p.pos++ // {
	obj := NewObject()
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Null(), p.errorf("unterminated {")
		}
		if p.src[p.pos] == '}' {
			p.pos++
			return ObjectValue(obj), nil
		}
		key, err := p.parseValue(depth + 1)
		if err != nil {
			return Null(), err
		}
		if !key.IsScalar() {
			return Null(), p.errorf("mapping key must be scalar")
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			return Null(), p.errorf("expected ':'")
		}
		p.pos++
		p.skipSpace()
		val, err := p.parseValue(depth + 1)
		if err != nil {
			return Null(), err
		}
		obj.Set(key.Text(), val)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] == '}' {
			continue
		}
		return Null(), p.errorf("expected ',' or '}'")
	}
}

func (p *literalParser) parseString() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf("dangling escape")
			}
			if err := p.parseEscape(&b); err != nil {
				return "", err
			}
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *literalParser) parseEscape(b *strings.Builder) error {
	esc := p.src[p.pos+1]
	p.pos += 2
	switch esc {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case '0':
		b.WriteByte(0)
	case '\\', '\'', '"', '/':
		b.WriteByte(esc)
	case 'x':
		return p.writeHexRune(b, 2)
	case 'u':
		return p.writeHexRune(b, 4)
	case 'U':
		return p.writeHexRune(b, 8)
	case '\n':
		// line continuation
	default:
		b.WriteByte('\\')
		b.WriteByte(esc)
	}
	return nil
}

func (p *literalParser) writeHexRune(b *strings.Builder, width int) error {
	if p.pos+width > len(p.src) {
		return p.errorf("short hex escape")
	}
	n, err := strconv.ParseUint(p.src[p.pos:p.pos+width], 16, 32)
	if err != nil {
		return p.errorf("invalid hex escape")
	}
	p.pos += width
	b.WriteRune(rune(n))
	return nil
}

func (p *literalParser) parseNumber() (Value, error) {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte("+-0123456789.eE_", p.src[p.pos]) >= 0 {
		p.pos++
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Int(n), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.pos = start
		return Null(), p.errorf("invalid number")
	}
	return Float(f), nil
}

func (p *literalParser) parseWord() (Value, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			p.pos++
			continue
		}
		break
	}
	switch p.src[start:p.pos] {
	case "None", "null":
		return Null(), nil
	case "True", "true":
		return Bool(true), nil
	case "False", "false":
		return Bool(false), nil
	case "nan", "NaN":
		return Null(), nil
	}
	p.pos = start
	return Null(), p.errorf("unexpected token")
}

// FromAny converts values produced by encoding/json, BSON decoding or test
// fixtures into a Value. Map keys are sorted to keep the result deterministic.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return fromFloat(float64(t))
	case float64:
		return fromFloat(t)
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return List(items...)
	case []map[string]any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return List(items...)
	case map[string]any:
		obj := NewObject()
		for _, k := range slices.Sorted(maps.Keys(t)) {
			obj.Set(k, FromAny(t[k]))
		}
		return ObjectValue(obj)
	case *Object:
		return ObjectValue(t)
	default:
		return String(fmt.Sprint(t))
	}
}

func fromFloat(f float64) Value {
	if f == float64(int64(f)) && f >= -1<<53 && f <= 1<<53 {
		return Int(int64(f))
	}
	return Float(f)
}
