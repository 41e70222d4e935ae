package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"reasonrt/pkg/budget"
)

// CalculatorTool evaluates basic arithmetic expressions (+ - * / and
// parentheses). It exists so strategies have a deterministic tool to reason
// with.
type CalculatorTool struct{}

// NewCalculatorTool creates a calculator tool.
func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

// Definition returns the tool metadata.
func (c *CalculatorTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression with +, -, *, / and parentheses.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"expression": {Type: "string", Description: "The expression to evaluate, e.g. \"(2+3)*4\""},
			},
			Required: []string{"expression"},
		},
	}
}

// Exec evaluates the expression argument.
func (c *CalculatorTool) Exec(_ context.Context, args map[string]any) (any, error) {
	expr, ok := args["expression"].(string)
	if !ok || strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: expression must be a non-empty string", ErrInvalidArgs)
	}
	p := &exprParser{input: strings.TrimSpace(expr)}
	value, err := p.parseExpr()
	if err != nil {
		return nil, NewPermanentError(err)
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return nil, NewPermanentError(fmt.Errorf("unexpected input at position %d", p.pos))
	}
	return strconv.FormatFloat(value, 'f', -1, 64), nil
}

// exprParser is a minimal recursive-descent parser over one expression.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}
	if p.input[p.pos] == '-' {
		p.pos++
		value, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return value, nil
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

// NoteWriteTool appends a finding to the request's shared workspace.
type NoteWriteTool struct {
	workspace *budget.Workspace
	author    string
}

// NewNoteWriteTool creates a workspace note writer for the given author ID.
func NewNoteWriteTool(workspace *budget.Workspace, author string) *NoteWriteTool {
	return &NoteWriteTool{workspace: workspace, author: author}
}

// Definition returns the tool metadata.
func (n *NoteWriteTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "note_write",
		Description: "Record a finding in the shared workspace, keyed by topic.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"key":     {Type: "string", Description: "Topic or chunk ID the note belongs to"},
				"content": {Type: "string", Description: "The finding to record"},
			},
			Required: []string{"key", "content"},
		},
	}
}

// Exec appends the note.
func (n *NoteWriteTool) Exec(_ context.Context, args map[string]any) (any, error) {
	key, _ := args["key"].(string)
	content, _ := args["content"].(string)
	if key == "" || content == "" {
		return nil, fmt.Errorf("%w: key and content are required", ErrInvalidArgs)
	}
	n.workspace.Append(budget.Note{Key: key, Author: n.author, Content: content})
	return fmt.Sprintf("recorded note under %q", key), nil
}

// NoteReadTool reads findings back from the shared workspace.
type NoteReadTool struct {
	workspace *budget.Workspace
}

// NewNoteReadTool creates a workspace note reader.
func NewNoteReadTool(workspace *budget.Workspace) *NoteReadTool {
	return &NoteReadTool{workspace: workspace}
}

// Definition returns the tool metadata.
func (n *NoteReadTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "note_read",
		Description: "Read findings from the shared workspace, optionally filtered by key.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"key": {Type: "string", Description: "Only return notes under this key"},
			},
		},
	}
}

// Exec returns the matching notes as text.
func (n *NoteReadTool) Exec(_ context.Context, args map[string]any) (any, error) {
	key, _ := args["key"].(string)
	var notes []budget.Note
	if key != "" {
		notes = n.workspace.NotesByKey(key)
	} else {
		notes = n.workspace.Notes()
	}
	if len(notes) == 0 {
		return "no notes found", nil
	}
	var sb strings.Builder
	for i := range notes {
		fmt.Fprintf(&sb, "[%s] %s\n", notes[i].Key, notes[i].Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// TextSearchTool finds lines matching a substring in a supplied body of text.
type TextSearchTool struct{}

// NewTextSearchTool creates a text search tool.
func NewTextSearchTool() *TextSearchTool {
	return &TextSearchTool{}
}

// Definition returns the tool metadata.
func (t *TextSearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "text_search",
		Description: "Return the lines of the given text that contain the query, with line numbers.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"text":  {Type: "string", Description: "The text to search"},
				"query": {Type: "string", Description: "Case-insensitive substring to look for"},
			},
			Required: []string{"text", "query"},
		},
	}
}

// Exec performs the search.
func (t *TextSearchTool) Exec(_ context.Context, args map[string]any) (any, error) {
	text, tok := args["text"].(string)
	query, qok := args["query"].(string)
	if !tok || !qok || query == "" {
		return nil, fmt.Errorf("%w: text and query are required", ErrInvalidArgs)
	}
	var sb strings.Builder
	matches := 0
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), strings.ToLower(query)) {
			fmt.Fprintf(&sb, "%d: %s\n", i+1, line)
			matches++
		}
	}
	if matches == 0 {
		return "no matches", nil
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
