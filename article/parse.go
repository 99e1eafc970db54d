package article

import (
	"bytes"
	"strings"
)

// Parse splits raw article bytes into ordered headers and body. Header
// lines end in CRLF or LF; folded continuation lines stay part of the
// value so that Bytes reproduces them. The body is kept byte for byte.
//
// Parse only checks header syntax; call Validate for message-id and
// newsgroup rules.
func Parse(raw []byte) (*Article, error) {
	var headers []Header
	rest := raw

	for len(rest) > 0 {
		line, next, eol := cutLine(rest)
		if len(line) == 0 {
			rest = next
			return New(headers, bodyCopy(rest)), nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) == 0 {
				return nil, &ValidationError{Field: "header", Reason: "continuation before first header"}
			}
			headers[len(headers)-1].Value += eol + string(line)
			rest = next
			continue
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, &ValidationError{Field: "header", Reason: "line without name"}
		}
		name := string(line[:colon])
		if strings.ContainsAny(name, " \t") {
			return nil, &ValidationError{Field: "header", Reason: "whitespace in name " + name}
		}
		value := string(line[colon+1:])
		if strings.HasPrefix(value, " ") {
			value = value[1:]
		}
		headers = append(headers, Header{Name: name, Value: value})
		rest = next
	}

	// headers without a separating blank line: empty body
	return New(headers, nil), nil
}

// cutLine returns the first line without its terminator, the remainder,
// and the terminator that was found.
func cutLine(b []byte) (line, rest []byte, eol string) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return b, nil, ""
	}
	line = b[:i]
	eol = "\n"
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
		eol = "\r\n"
	}
	return line, b[i+1:], eol
}

func bodyCopy(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
