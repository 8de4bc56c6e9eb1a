package main

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/vibe/pkg/gateway"
	"github.com/rhuss/vibe/pkg/ingest"
	"github.com/rhuss/vibe/pkg/merge"
	"github.com/rhuss/vibe/pkg/preview"
	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/startplan"
)

// Generator is the part of the prompt gateway the generate tool needs.
type Generator interface {
	Generate(ctx context.Context, files project.FileSet, prompt string) (*gateway.Cycle, error)
}

type IngestInput struct {
	Raw string `json:"raw" jsonschema:"the raw text returned by the model"`
}

type MergeInput struct {
	Existing project.FileSet `json:"existing" jsonschema:"current project files keyed by relative name"`
	Incoming project.FileSet `json:"incoming" jsonschema:"files to add or replace"`
}

type FilesInput struct {
	Files project.FileSet `json:"files" jsonschema:"project files keyed by relative name"`
}

type GenerateInput struct {
	Files  project.FileSet `json:"files" jsonschema:"current project files keyed by relative name"`
	Prompt string          `json:"prompt" jsonschema:"the change to make"`
}

type MergeOutput struct {
	Files project.FileSet `json:"files"`
}

// newServer registers the pipeline tools. gen may be nil, in which case
// the generate tool is omitted.
func newServer(gen Generator) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "vibe", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest",
		Description: "Parse a raw model response into its message and files",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in IngestInput) (*mcp.CallToolResult, any, error) {
		result, err := ingest.Ingest(in.Raw)
		if err != nil {
			return nil, nil, err
		}
		return nil, result, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "merge",
		Description: "Merge incoming files into existing ones; names are normalized and an index.html is added when no entry file exists",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in MergeInput) (*mcp.CallToolResult, any, error) {
		return nil, MergeOutput{Files: merge.Merge(in.Existing, in.Incoming)}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan",
		Description: "Decide how a set of project files would be started",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in FilesInput) (*mcp.CallToolResult, any, error) {
		plan, err := startplan.Resolve(in.Files)
		if err != nil {
			return nil, nil, err
		}
		return nil, plan, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "render",
		Description: "Build a single self-contained HTML document from project files",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in FilesInput) (*mcp.CallToolResult, any, error) {
		doc, err := preview.Render(in.Files)
		if err != nil {
			return nil, nil, err
		}
		return nil, doc, nil
	})

	if gen != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "generate",
			Description: "Ask the configured model to apply a prompt to project files and return the merged result",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in GenerateInput) (*mcp.CallToolResult, any, error) {
			cycle, err := gen.Generate(ctx, in.Files, in.Prompt)
			if err != nil {
				return nil, nil, err
			}
			return nil, cycle, nil
		})
	}

	return server
}
