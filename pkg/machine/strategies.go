package machine

import "fmt"

func init() {
	RegisterStrategy(&reactStrategy{})
	RegisterStrategy(&chainOfThought{})
	RegisterStrategy(&treeOfThought{})
	RegisterStrategy(&graphOfThought{})
	RegisterStrategy(&decomposeStrategy{})
}

// reactStrategy interleaves reasoning with tool calls until the model states
// a final answer.
type reactStrategy struct{}

func (reactStrategy) Name() string { return "react" }

func (reactStrategy) SystemPrompt() string {
	return "You are a careful problem solver. Think step by step. " +
		"When you need information or computation, call the available tools. " +
		"When you are confident in the result, reply with a line starting with " +
		"\"FINAL ANSWER:\" followed by the answer and nothing else after it."
}

func (reactStrategy) UserPrompt(query string) string {
	return query
}

func (reactStrategy) ExtractFinal(content string) (string, bool) {
	return extractAfterMarker(content)
}

func (reactStrategy) RetryPrompt() string {
	return "Your previous reply did not contain a final answer. " +
		"Reply with a line starting with \"FINAL ANSWER:\" followed by the answer."
}

func (reactStrategy) ToolsEnabled() bool { return true }
func (reactStrategy) Decomposes() bool   { return false }

// chainOfThought reasons in a single visible chain without tools.
type chainOfThought struct{}

func (chainOfThought) Name() string { return "cot" }

func (chainOfThought) SystemPrompt() string {
	return "Reason through the problem step by step, showing your work. " +
		"End with a line starting with \"FINAL ANSWER:\" followed by the answer."
}

func (chainOfThought) UserPrompt(query string) string {
	return fmt.Sprintf("%s\n\nLet's think step by step.", query)
}

func (chainOfThought) ExtractFinal(content string) (string, bool) {
	return extractAfterMarker(content)
}

func (chainOfThought) RetryPrompt() string {
	return "Restate your conclusion as a line starting with \"FINAL ANSWER:\"."
}

func (chainOfThought) ToolsEnabled() bool { return false }
func (chainOfThought) Decomposes() bool   { return false }

// treeOfThought explores multiple candidate lines of reasoning before
// committing, with tools available for verification.
type treeOfThought struct{}

func (treeOfThought) Name() string { return "tot" }

func (treeOfThought) SystemPrompt() string {
	return "Explore up to three distinct approaches to the problem. For each, " +
		"sketch the reasoning and note whether it succeeds or dead-ends. Use the " +
		"available tools to verify intermediate results. Then commit to the best " +
		"approach and end with a line starting with \"FINAL ANSWER:\"."
}

func (treeOfThought) UserPrompt(query string) string {
	return query
}

func (treeOfThought) ExtractFinal(content string) (string, bool) {
	return extractAfterMarker(content)
}

func (treeOfThought) RetryPrompt() string {
	return "Pick the strongest approach you explored and state its result as " +
		"a line starting with \"FINAL ANSWER:\"."
}

func (treeOfThought) ToolsEnabled() bool { return true }
func (treeOfThought) Decomposes() bool   { return false }

// graphOfThought lets intermediate conclusions reference and combine each
// other rather than forming a strict tree.
type graphOfThought struct{}

func (graphOfThought) Name() string { return "got" }

func (graphOfThought) SystemPrompt() string {
	return "Break the problem into named intermediate conclusions (C1, C2, ...). " +
		"Each conclusion may build on any earlier ones, and you may merge or revise " +
		"them as you go. Use the available tools where they help. End with a line " +
		"starting with \"FINAL ANSWER:\"."
}

func (graphOfThought) UserPrompt(query string) string {
	return query
}

func (graphOfThought) ExtractFinal(content string) (string, bool) {
	return extractAfterMarker(content)
}

func (graphOfThought) RetryPrompt() string {
	return "Combine your conclusions and state the result as a line starting " +
		"with \"FINAL ANSWER:\"."
}

func (graphOfThought) ToolsEnabled() bool { return true }
func (graphOfThought) Decomposes() bool   { return false }

// decomposeStrategy fans oversized contexts out to child workers and
// synthesizes their findings; small tasks fall through to plain tool-loop
// behavior.
type decomposeStrategy struct{}

func (decomposeStrategy) Name() string { return "decompose" }

func (decomposeStrategy) SystemPrompt() string {
	return "You answer questions about a large body of text that has been " +
		"analyzed in segments by workers. Combine their findings faithfully; do " +
		"not invent content that no worker reported. End with a line starting " +
		"with \"FINAL ANSWER:\"."
}

func (decomposeStrategy) UserPrompt(query string) string {
	return query
}

func (decomposeStrategy) ExtractFinal(content string) (string, bool) {
	return extractAfterMarker(content)
}

func (decomposeStrategy) RetryPrompt() string {
	return "State your combined conclusion as a line starting with \"FINAL ANSWER:\"."
}

func (decomposeStrategy) ToolsEnabled() bool { return true }
func (decomposeStrategy) Decomposes() bool   { return true }

// WorkerQuery renders the sub-query a child worker receives for its chunks.
func WorkerQuery(query string, chunkIDs []string) string {
	return fmt.Sprintf("Analyze your assigned segment(s) %v with respect to this task, "+
		"and report your findings concisely:\n%s", chunkIDs, query)
}
