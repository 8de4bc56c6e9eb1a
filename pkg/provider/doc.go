// Package provider defines the interface to the remote generation service
// that turns a learner prompt into project files. Each adapter (openai,
// anthropic, gemini, mock) handles its own backend protocol and maps
// failures onto the shared error taxonomy in pkg/api.
package provider
