package codec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// Decode reads a sheet file. headers must come before the first cell
// line; blank lines are ignored.
func Decode(r io.Reader) (*Document, error) {
	doc := &Document{Kind: spreadsheet.OrdinaryGrid}
	seen := make(map[spreadsheet.Cell]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if len(doc.Entries) > 0 {
				return nil, syntaxError(lineNo, "header after cell lines")
			}
			if err := decodeHeader(doc, line); err != nil {
				return nil, syntaxError(lineNo, err.Error())
			}
			continue
		}

		address, content, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, syntaxError(lineNo, "missing tab after address")
		}
		cell, err := spreadsheet.ParseAddress(address)
		if err != nil {
			return nil, syntaxError(lineNo, err.Error())
		}
		if !cell.IsLocal() {
			return nil, syntaxError(lineNo, "cell addresses must not name a sheet")
		}
		if _, err := ParseContent(content); err != nil {
			return nil, syntaxError(lineNo, err.Error())
		}
		if prev, dup := seen[cell]; dup {
			return nil, syntaxError(lineNo, fmt.Sprintf("%s already set on line %d", cell, prev))
		}
		seen[cell] = lineNo
		doc.Entries = append(doc.Entries, Entry{Cell: cell, Content: content})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sheet file: %w", err)
	}
	return doc, nil
}

func syntaxError(line int, msg string) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, line, msg)
}

func decodeHeader(doc *Document, line string) error {
	fields := strings.Split(line, "\t")
	kind, ok := parseHeaderKind(fields[0])
	if !ok {
		return fmt.Errorf("unknown header %q", fields[0])
	}

	switch kind {
	case HeaderSheet:
		if len(fields) != 2 || fields[1] == "" {
			return fmt.Errorf("%s takes a sheet name", kind)
		}
		name, ok := unescape(fields[1])
		if !ok {
			return fmt.Errorf("bad escape in sheet name %q", fields[1])
		}
		doc.Name = name
	case HeaderKindOfSheet:
		if len(fields) != 2 {
			return fmt.Errorf("%s takes one value", kind)
		}
		gridKind, ok := parseGridKind(fields[1])
		if !ok {
			return fmt.Errorf("unknown sheet kind %q", fields[1])
		}
		doc.Kind = gridKind
	case HeaderParam:
		if len(fields) != 3 || fields[1] == "" {
			return fmt.Errorf("%s takes a name and a cell", kind)
		}
		cell, err := spreadsheet.ParseAddress(fields[2])
		if err != nil {
			return err
		}
		doc.Params = append(doc.Params, ParamHeader{Name: fields[1], Cell: cell.Local()})
	}
	return nil
}

// ParseContent turns cell line content into a literal value, or into a
// Formula for content starting with =
func ParseContent(content string) (any, error) {
	if strings.HasPrefix(content, "=") {
		formula, ok := unescape(content)
		if !ok {
			return nil, fmt.Errorf("bad escape in formula %q", content)
		}
		return Formula(formula), nil
	}

	tag, raw, ok := strings.Cut(content, ":")
	if !ok {
		return nil, fmt.Errorf("content %q has no kind prefix", content)
	}
	switch tag {
	case "n":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", raw)
		}
		return v, nil
	case "b":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("bad boolean %q", raw)
		}
		return v, nil
	case "s":
		text, ok := unescape(raw)
		if !ok {
			return nil, fmt.Errorf("bad escape in text %q", raw)
		}
		return text, nil
	case "c":
		text, ok := unescape(raw)
		if !ok || utf8.RuneCountInString(text) != 1 {
			return nil, fmt.Errorf("bad character %q", raw)
		}
		r, _ := utf8.DecodeRuneInString(text)
		return r, nil
	case "t":
		v, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("bad time %q", raw)
		}
		return v, nil
	case "e":
		for code, text := range spreadsheet.ErrorMapper {
			if text == raw {
				return spreadsheet.NewSpreadsheetError(code, ""), nil
			}
		}
		return nil, fmt.Errorf("unknown error value %q", raw)
	}
	return nil, fmt.Errorf("unknown kind prefix %q", tag)
}
