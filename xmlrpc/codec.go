package xmlrpc

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const xmlHeader = "<?xml version=\"1.0\"?>\n"

// Fault is a remote failure carried in a methodResponse. It travels as a
// struct with integer faultCode and string faultString members.
type Fault struct {
	Code   int
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xml-rpc fault %d: %s", f.Code, f.String)
}

// EncodeRequest renders a methodCall document for the given method and
// positional arguments.
func EncodeRequest(method string, args []any) ([]byte, error) {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString("<methodCall><methodName>")
	if err := xml.EscapeText(&b, []byte(method)); err != nil {
		return nil, err
	}
	b.WriteString("</methodName><params>")
	for _, a := range args {
		b.WriteString("<param>")
		if err := writeValue(&b, a); err != nil {
			return nil, err
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return []byte(b.String()), nil
}

// EncodeResponse renders a single-value methodResponse document.
func EncodeResponse(v any) ([]byte, error) {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString("<methodResponse><params><param>")
	if err := writeValue(&b, v); err != nil {
		return nil, err
	}
	b.WriteString("</param></params></methodResponse>")
	return []byte(b.String()), nil
}

// EncodeFault renders a fault methodResponse document.
func EncodeFault(f *Fault) []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString("<methodResponse><fault>")
	// A fault body only holds an int and an escaped string, so this
	// cannot fail.
	writeValue(&b, map[string]any{
		"faultCode":   f.Code,
		"faultString": f.String,
	})
	b.WriteString("</fault></methodResponse>")
	return []byte(b.String())
}

// DecodeRequest parses a methodCall document, returning the method name
// and positional arguments.
func DecodeRequest(r io.Reader) (string, []any, error) {
	dec := newDecoder(r)
	tok, err := dec.next()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	root, ok := tok.(xml.StartElement)
	if !ok || root.Name.Local != "methodCall" {
		return "", nil, fmt.Errorf("%w: expected <methodCall>", ErrParse)
	}
	var method string
	args := []any{}
	for {
		tok, err := dec.next()
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "methodCall" {
				if method == "" {
					return "", nil, fmt.Errorf("%w: missing methodName", ErrParse)
				}
				return method, args, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "methodName":
				s, err := dec.text()
				if err != nil {
					return "", nil, fmt.Errorf("%w: %v", ErrParse, err)
				}
				method = strings.TrimSpace(s)
			case "param":
				v, err := dec.parseValueElement()
				if err != nil {
					return "", nil, err
				}
				args = append(args, v)
			case "params":
				// Container element, descend.
			default:
				return "", nil, fmt.Errorf("%w: unexpected element <%s>", ErrParse, t.Name.Local)
			}
		}
	}
}

// DecodeResponse parses a methodResponse document. A fault body is
// returned as a *Fault error.
func DecodeResponse(r io.Reader) (any, error) {
	dec := newDecoder(r)
	tok, err := dec.next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	root, ok := tok.(xml.StartElement)
	if !ok || root.Name.Local != "methodResponse" {
		return nil, fmt.Errorf("%w: expected <methodResponse>", ErrParse)
	}
	tok, err = dec.next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return nil, fmt.Errorf("%w: empty methodResponse", ErrParse)
	}
	switch start.Name.Local {
	case "params":
		tok, err := dec.next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		param, ok := tok.(xml.StartElement)
		if !ok || param.Name.Local != "param" {
			return nil, fmt.Errorf("%w: expected <param>", ErrParse)
		}
		return dec.parseValueElement()
	case "fault":
		v, err := dec.parseValueElement()
		if err != nil {
			return nil, err
		}
		body, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: fault body is not a struct", ErrParse)
		}
		f := &Fault{}
		if c, ok := body["faultCode"].(int); ok {
			f.Code = c
		}
		if s, ok := body["faultString"].(string); ok {
			f.String = s
		}
		return nil, f
	}
	return nil, fmt.Errorf("%w: unexpected element <%s>", ErrParse, start.Name.Local)
}
