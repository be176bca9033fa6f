package scripting

import "fmt"

type segment struct {
	text string
	expr bool
}

// parseTemplate splits text into literal and ${...} segments. Braces inside
// an expression nest, and quoted strings are skipped. Text without any
// expression yields no segments.
func parseTemplate(text string) ([]segment, error) {
	var segs []segment
	lit := 0
	found := false

	for i := 0; i < len(text); i++ {
		if text[i] != '$' || i+1 >= len(text) || text[i+1] != '{' {
			continue
		}
		end, err := closeBrace(text, i+2)
		if err != nil {
			return nil, err
		}
		found = true
		if i > lit {
			segs = append(segs, segment{text: text[lit:i]})
		}
		segs = append(segs, segment{text: text[i+2 : end], expr: true})
		lit = end + 1
		i = end
	}

	if !found {
		return nil, nil
	}
	if lit < len(text) {
		segs = append(segs, segment{text: text[lit:]})
	}
	return segs, nil
}

func closeBrace(text string, start int) (int, error) {
	depth := 1
	var quote byte
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unterminated ${ at offset %d", ErrLuaLoad, start-2)
}
