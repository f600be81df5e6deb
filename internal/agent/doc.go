// Package agent contains the core orchestrator that turns a user query into
// a bounded tool-calling conversation with a language model. It assembles the
// system prompt from the account context and tool manifest, dispatches each
// requested tool call, and feeds results back until the model answers in
// plain text or the turn budget runs out.
package agent
