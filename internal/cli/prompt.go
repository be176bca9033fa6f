package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/tidwall/gjson"
)

// ErrInputClosed is returned when the input ends in the middle of a form.
var ErrInputClosed = errors.New("input closed")

// Prompter asks for form values line by line.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter creates a prompter reading answers from in.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// Form collects one value per field of a form suspension. An empty answer
// takes the field default; invalid answers are asked again.
func (p *Prompter) Form(s domain.Suspension) (map[string]any, error) {
	printSystemMessage(p.out, "Form '%s'", s.Form)
	values := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		for {
			label := f.Label
			if label == "" {
				label = f.Name
			}
			if f.Default != nil {
				fmt.Fprintf(p.out, "%s [%v]: ", label, f.Default)
			} else {
				fmt.Fprintf(p.out, "%s: ", label)
			}
			if !p.in.Scan() {
				if err := p.in.Err(); err != nil {
					return nil, err
				}
				return nil, ErrInputClosed
			}
			answer := strings.TrimSpace(p.in.Text())
			if answer == "" && f.Default != nil {
				values[f.Name] = f.Default
				break
			}
			v, err := convertAnswer(f.Type, answer)
			if err != nil {
				fmt.Fprintf(p.out, "  %v\n", err)
				continue
			}
			values[f.Name] = v
			break
		}
	}
	return values, nil
}

// convertAnswer parses answer according to a form field type.
func convertAnswer(typ, answer string) (any, error) {
	switch strings.ToLower(typ) {
	case "", "string", "text":
		return answer, nil
	case "bool", "boolean":
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		b, err := strconv.ParseBool(answer)
		if err != nil {
			return nil, fmt.Errorf("expected yes or no, got %q", answer)
		}
		return b, nil
	case "int", "integer":
		n, err := strconv.ParseInt(answer, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", answer)
		}
		return n, nil
	case "number", "float":
		n, err := strconv.ParseFloat(answer, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", answer)
		}
		return n, nil
	case "json", "object", "list":
		if !gjson.Valid(answer) {
			return nil, fmt.Errorf("expected JSON, got %q", answer)
		}
		return gjson.Parse(answer).Value(), nil
	default:
		return answer, nil
	}
}
