// Package llm defines the provider-neutral conversation model used by the
// agent loop: role-tagged messages, tool declarations, tool calls and tool
// results. Provider adapters live in subpackages and translate to and from
// their SDK types.
package llm
