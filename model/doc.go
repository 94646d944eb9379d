// Package model defines the provider-agnostic text-completion interface the
// agents use as their LLM collaborator, plus helpers around it.
//
// Core goals:
//   - Keep the boundary narrow: a prompt in, untrusted text out
//   - Extract structured answers with GenerateJSON and let callers fall back
//   - Bound spend with Limited (call budget + per-call timeout)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI) live in sub-packages so agents remain
// decoupled from vendor SDKs.
package model
