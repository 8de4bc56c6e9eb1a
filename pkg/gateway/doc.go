// Package gateway runs a prompt cycle: it sends the learner's prompt and
// the current project files to the generation service, ingests the raw
// answer, merges the generated files onto the project, and records the
// interaction. A cycle either commits both the merged files and the
// interaction or leaves the stored project untouched.
package gateway
