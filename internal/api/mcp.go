package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/thumbforge/internal/genapi"
	"github.com/kalambet/thumbforge/internal/jobs"
	"github.com/kalambet/thumbforge/internal/projectapi"
	"github.com/kalambet/thumbforge/internal/storage"
)

// MCPJobs starts a generation job and waits for its outcome.
type MCPJobs interface {
	Run(ctx context.Context, req genapi.StartRequest, onProgress jobs.ProgressFunc) (*jobs.Outcome, error)
}

// MCPProjects is the project collection the tools act on.
type MCPProjects interface {
	Projects() []projectapi.Project
	CreateNewProject(ctx context.Context, name string, isPublic bool) (*projectapi.Project, error)
	UpdateProject(ctx context.Context, id string, patch projectapi.Patch) error
	RemoveProject(ctx context.Context, id string) error
	ToggleFavorite(id string) bool
}

// MCPJobLog lists recently observed jobs.
type MCPJobLog interface {
	RecentJobRecords(f storage.JobRecordFilter) ([]storage.JobRecord, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Jobs     MCPJobs
	Projects MCPProjects
	JobLog   MCPJobLog // optional; if nil, the recent-jobs resource is not registered
	// JobTimeout bounds generate_thumbnail. Zero means the poller's own limits.
	JobTimeout time.Duration
}

// NewMCPServer creates an MCP server with all thumbforge tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"thumbforge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("thumbforge: generate thumbnails and manage thumbnail projects."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_thumbnail",
			mcp.WithDescription("Generate a thumbnail from a prompt and wait for the result URL."),
			mcp.WithString("prompt", mcp.Description("What the thumbnail should show"), mcp.Required()),
			mcp.WithString("project_id", mcp.Description("Project to file the thumbnail under")),
			mcp.WithString("style", mcp.Description("Optional style preset")),
			mcp.WithString("aspect_ratio", mcp.Description("Aspect ratio, e.g. 16:9"), mcp.Enum("16:9", "9:16", "1:1", "4:3")),
		),
		mcpGenerateThumbnail(deps),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List the current projects, favorites first."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("create_project",
			mcp.WithDescription("Create a new project."),
			mcp.WithString("name", mcp.Description("Project name"), mcp.Required()),
			mcp.WithBoolean("public", mcp.Description("Whether the project is public (default false)")),
		),
		mcpCreateProject(deps),
	)

	s.AddTool(
		mcp.NewTool("rename_project",
			mcp.WithDescription("Rename a project."),
			mcp.WithString("id", mcp.Description("Project id"), mcp.Required()),
			mcp.WithString("name", mcp.Description("New name"), mcp.Required()),
		),
		mcpRenameProject(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_project",
			mcp.WithDescription("Delete a project. It disappears immediately and comes back if the backend refuses."),
			mcp.WithString("id", mcp.Description("Project id"), mcp.Required()),
		),
		mcpDeleteProject(deps),
	)

	s.AddTool(
		mcp.NewTool("toggle_favorite",
			mcp.WithDescription("Toggle the local favorite flag of a project."),
			mcp.WithString("id", mcp.Description("Project id"), mcp.Required()),
		),
		mcpToggleFavorite(deps),
	)

	if deps.JobLog != nil {
		s.AddResource(
			mcp.NewResource(
				"thumbforge://jobs/recent",
				"Recent Jobs",
				mcp.WithResourceDescription("Last 20 generation jobs observed by this client"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecentJobs(deps),
		)
	}

	return s
}

func mcpGenerateThumbnail(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil || prompt == "" {
			return mcpError("prompt is required"), nil
		}

		if deps.JobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deps.JobTimeout)
			defer cancel()
		}

		out, err := deps.Jobs.Run(ctx, genapi.StartRequest{
			Kind:        genapi.KindThumbnail,
			Prompt:      prompt,
			ProjectID:   req.GetString("project_id", ""),
			Style:       req.GetString("style", ""),
			AspectRatio: req.GetString("aspect_ratio", ""),
		}, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		if err := out.Err(); err != nil {
			msg := err.Error()
			if out.Failure.Suggestion != "" {
				msg += "\nSuggestion: " + out.Failure.Suggestion
			}
			return mcpError(msg), nil
		}

		b, err := json.Marshal(map[string]string{
			"job_id":    out.JobID,
			"image_url": out.Result.Primary(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects := favoritesFirst(deps.Projects.Projects())
		b, err := json.Marshal(projects)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCreateProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil || name == "" {
			return mcpError("name is required"), nil
		}

		p, err := deps.Projects.CreateNewProject(ctx, name, req.GetBool("public", false))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Created project %s (%s)", p.Name, p.ID)), nil
	}
}

func mcpRenameProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil || name == "" {
			return mcpError("name is required"), nil
		}

		if err := deps.Projects.UpdateProject(ctx, id, projectapi.Patch{Name: &name}); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Renamed project %s to %s", id, name)), nil
	}
}

func mcpDeleteProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		if err := deps.Projects.RemoveProject(ctx, id); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Deleted project %s", id)), nil
	}
}

func mcpToggleFavorite(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		if deps.Projects.ToggleFavorite(id) {
			return mcpText(fmt.Sprintf("Project %s is now a favorite", id)), nil
		}
		return mcpText(fmt.Sprintf("Project %s is no longer a favorite", id)), nil
	}
}

func mcpResourceRecentJobs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.JobLog.RecentJobRecords(storage.JobRecordFilter{Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("failed to get recent jobs: %w", err)
		}

		type jobSummary struct {
			ID        string `json:"id"`
			Kind      string `json:"kind"`
			Status    string `json:"status"`
			Progress  int    `json:"progress"`
			ResultURL string `json:"result_url,omitempty"`
			Error     string `json:"error,omitempty"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]jobSummary, len(records))
		for i, r := range records {
			summaries[i] = jobSummary{
				ID:        r.ID,
				Kind:      r.Kind,
				Status:    r.StatusCode,
				Progress:  r.Progress,
				ResultURL: r.ResultURL,
				Error:     r.Error,
				CreatedAt: r.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// favoritesFirst returns ps with favorites moved to the front, otherwise
// keeping the backend order.
func favoritesFirst(ps []projectapi.Project) []projectapi.Project {
	out := make([]projectapi.Project, 0, len(ps))
	for _, p := range ps {
		if p.Favorite {
			out = append(out, p)
		}
	}
	for _, p := range ps {
		if !p.Favorite {
			out = append(out, p)
		}
	}
	return out
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
