// Package agent contains the orchestrator that turns a normalized event
// description into a bounded, tool-calling conversation with the model. Each
// Run is independent: it keeps its own message history, executes tool calls in
// the order the model issued them, and stops on completion, on a turn without
// tool calls, or at the iteration ceiling.
package agent
