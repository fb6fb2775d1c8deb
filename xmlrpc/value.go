// Package xmlrpc implements the XML-RPC wire format and the HTTP client
// and server endpoints the messaging system is built on. Values map onto
// Go types as string, int, bool, float64, time.Time, []byte, []any and
// map[string]any, nested to any depth.
package xmlrpc

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrParse reports a request or response body that could not be decoded.
var ErrParse = errors.New("malformed xml-rpc payload")

const iso8601Layout = "20060102T15:04:05"

func writeValue(b *strings.Builder, v any) error {
	b.WriteString("<value>")
	switch t := v.(type) {
	case string:
		b.WriteString("<string>")
		if err := xml.EscapeText(b, []byte(t)); err != nil {
			return err
		}
		b.WriteString("</string>")
	case int:
		b.WriteString("<int>")
		b.WriteString(strconv.Itoa(t))
		b.WriteString("</int>")
	case int64:
		b.WriteString("<int>")
		b.WriteString(strconv.FormatInt(t, 10))
		b.WriteString("</int>")
	case bool:
		if t {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case float64:
		b.WriteString("<double>")
		b.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
		b.WriteString("</double>")
	case time.Time:
		b.WriteString("<dateTime.iso8601>")
		b.WriteString(t.Format(iso8601Layout))
		b.WriteString("</dateTime.iso8601>")
	case []byte:
		b.WriteString("<base64>")
		b.WriteString(base64.StdEncoding.EncodeToString(t))
		b.WriteString("</base64>")
	case []any:
		b.WriteString("<array><data>")
		for _, e := range t {
			if err := writeValue(b, e); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	case map[string]any:
		b.WriteString("<struct>")
		for k, e := range t {
			b.WriteString("<member><name>")
			if err := xml.EscapeText(b, []byte(k)); err != nil {
				return err
			}
			b.WriteString("</name>")
			if err := writeValue(b, e); err != nil {
				return err
			}
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	b.WriteString("</value>")
	return nil
}

// decoder walks an xml token stream one value at a time.
type decoder struct {
	d *xml.Decoder
}

// next returns the next start or end element, skipping character data and
// other tokens in between.
func (dec *decoder) next() (xml.Token, error) {
	for {
		tok, err := dec.d.Token()
		if err != nil {
			return nil, err
		}
		switch tok.(type) {
		case xml.StartElement, xml.EndElement:
			return tok, nil
		}
	}
}

// text collects character data until the current element closes.
func (dec *decoder) text() (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			return b.String(), nil
		case xml.StartElement:
			return "", fmt.Errorf("%w: unexpected element <%s>", ErrParse, t.Name.Local)
		}
	}
}

// value parses the contents of a <value> element, positioned just after
// its start tag. Untyped content decodes as a string.
func (dec *decoder) value() (any, error) {
	var text strings.Builder
	for {
		tok, err := dec.d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			return text.String(), nil
		case xml.StartElement:
			v, err := dec.typed(t)
			if err != nil {
				return nil, err
			}
			if err := dec.drain(); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
}

// drain consumes trailing whitespace up to the closing </value> tag.
func (dec *decoder) drain() error {
	for {
		tok, err := dec.d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			return fmt.Errorf("%w: unexpected element <%s>", ErrParse, t.Name.Local)
		}
	}
}

func (dec *decoder) typed(start xml.StartElement) (any, error) {
	switch start.Name.Local {
	case "string":
		return dec.text()
	case "int", "i4":
		s, err := dec.text()
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: bad int %q", ErrParse, s)
		}
		return n, nil
	case "boolean":
		s, err := dec.text()
		if err != nil {
			return nil, err
		}
		switch strings.TrimSpace(s) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return nil, fmt.Errorf("%w: bad boolean %q", ErrParse, s)
	case "double":
		s, err := dec.text()
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad double %q", ErrParse, s)
		}
		return f, nil
	case "dateTime.iso8601":
		s, err := dec.text()
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(iso8601Layout, strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: bad dateTime %q", ErrParse, s)
		}
		return ts, nil
	case "base64":
		s, err := dec.text()
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64", ErrParse)
		}
		return raw, nil
	case "array":
		return dec.array()
	case "struct":
		return dec.strct()
	}
	return nil, fmt.Errorf("%w: unknown value type <%s>", ErrParse, start.Name.Local)
}

// array parses <array><data><value>...</value></data></array>, positioned
// just after the <array> start tag.
func (dec *decoder) array() ([]any, error) {
	tok, err := dec.next()
	if err != nil {
		return nil, err
	}
	data, ok := tok.(xml.StartElement)
	if !ok || data.Name.Local != "data" {
		return nil, fmt.Errorf("%w: array without <data>", ErrParse)
	}
	out := []any{}
	for {
		tok, err := dec.next()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "value" {
				return nil, fmt.Errorf("%w: unexpected element <%s> in array", ErrParse, t.Name.Local)
			}
			v, err := dec.value()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		case xml.EndElement:
			// </data>; consume </array> as well.
			if err := dec.drain(); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
}

// strct parses <struct><member><name>..</name><value>..</value></member>..,
// positioned just after the <struct> start tag.
func (dec *decoder) strct() (map[string]any, error) {
	out := map[string]any{}
	for {
		tok, err := dec.next()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return out, nil
		case xml.StartElement:
			if t.Name.Local != "member" {
				return nil, fmt.Errorf("%w: unexpected element <%s> in struct", ErrParse, t.Name.Local)
			}
			name, val, err := dec.member()
			if err != nil {
				return nil, err
			}
			out[name] = val
		}
	}
}

func (dec *decoder) member() (string, any, error) {
	var name string
	var val any
	haveName, haveVal := false, false
	for {
		tok, err := dec.next()
		if err != nil {
			return "", nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if !haveName || !haveVal {
				return "", nil, fmt.Errorf("%w: incomplete struct member", ErrParse)
			}
			return name, val, nil
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				s, err := dec.text()
				if err != nil {
					return "", nil, err
				}
				name, haveName = s, true
			case "value":
				v, err := dec.value()
				if err != nil {
					return "", nil, err
				}
				val, haveVal = v, true
			default:
				return "", nil, fmt.Errorf("%w: unexpected element <%s> in member", ErrParse, t.Name.Local)
			}
		}
	}
}

// parseValueElement expects the next element to be <value> and parses it.
func (dec *decoder) parseValueElement() (any, error) {
	tok, err := dec.next()
	if err != nil {
		return nil, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok || start.Name.Local != "value" {
		return nil, fmt.Errorf("%w: expected <value>", ErrParse)
	}
	return dec.value()
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{d: xml.NewDecoder(r)}
}
