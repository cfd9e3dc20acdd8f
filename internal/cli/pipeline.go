package cli

import (
	"context"
	"fmt"

	"github.com/rakunlabs/ocs/internal/pipeline"
)

// dispatchPipeline implements `pipeline create|move|note|show|list|board`
// (spec §6).
func (a *App) dispatchPipeline(ctx context.Context, args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, &validationError{"pipeline: a subcommand is required (create|move|note|show|list|board)"}
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "create":
		return a.pipelineCreate(ctx, rest)
	case "move":
		return a.pipelineMove(ctx, rest)
	case "note":
		return a.pipelineNote(ctx, rest)
	case "show":
		return a.pipelineShow(ctx, rest)
	case "list":
		return a.pipelineList(ctx, rest)
	case "board":
		return a.pipelineBoard(ctx, rest)
	default:
		return nil, &validationError{fmt.Sprintf("pipeline: unknown subcommand %q", sub)}
	}
}

func (a *App) pipelineCreate(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)

	if fs.get("title") == "" {
		return nil, &validationError{"pipeline create: --title is required"}
	}
	if fs.get("type") == "" {
		return nil, &validationError{"pipeline create: --type is required"}
	}

	return a.Pipelines.CreatePipeline(ctx, pipeline.CreateInput{
		Type:        fs.get("type"),
		ProjectID:   fs.get("project"),
		ParentID:    fs.get("parent"),
		Title:       fs.get("title"),
		Description: fs.get("description"),
		Priority:    fs.getInt("priority", 0),
	})
}

func (a *App) pipelineMove(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)
	if len(fs.positional) < 2 {
		return nil, &validationError{"pipeline move: usage: pipeline move <id> <stage>"}
	}

	id, stage := fs.positional[0], fs.positional[1]

	return a.Pipelines.UpdatePipeline(ctx, id, map[string]interface{}{"stage": stage}, "cli")
}

func (a *App) pipelineNote(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)
	if len(fs.positional) < 3 {
		return nil, &validationError{"pipeline note: usage: pipeline note <id> <role> <content> [--type <note-type>]"}
	}

	id, role, content := fs.positional[0], fs.positional[1], fs.positional[2]
	noteType := fs.get("type")
	if noteType == "" {
		noteType = "info"
	}

	return a.Pipelines.AddPipelineNote(ctx, id, role, noteType, content)
}

func (a *App) pipelineShow(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)
	if len(fs.positional) < 1 {
		return nil, &validationError{"pipeline show: usage: pipeline show <id>"}
	}

	id := fs.positional[0]

	item, err := a.Pipelines.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, err := a.Pipelines.GetPipelineTasks(ctx, id)
	if err != nil {
		return nil, err
	}

	notes, err := a.Pipelines.GetPipelineNotes(ctx, id)
	if err != nil {
		return nil, err
	}

	children, err := a.Pipelines.GetChildItems(ctx, id)
	if err != nil {
		return nil, err
	}

	return struct {
		Item     *pipeline.Item    `json:"item"`
		Tasks    []pipeline.Task   `json:"tasks"`
		Notes    []pipeline.Note   `json:"notes"`
		Children []pipeline.Item   `json:"children"`
	}{Item: item, Tasks: tasks, Notes: notes, Children: children}, nil
}

func (a *App) pipelineList(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)

	return a.Pipelines.ListPipeline(ctx, pipeline.ListOpts{
		ProjectID: fs.get("project"),
		ParentID:  fs.get("parent"),
		Stage:     fs.get("stage"),
		Type:      fs.get("type"),
		Limit:     fs.getInt("limit", 0),
	})
}

// pipelineBoard groups open items by type then stage, the shape an
// operator's terminal board view renders from (spec §4.8 "kanban-style
// view of non-terminal work").
func (a *App) pipelineBoard(ctx context.Context, args []string) (interface{}, error) {
	fs := parseFlags(args)

	items, err := a.Pipelines.ListPipeline(ctx, pipeline.ListOpts{ProjectID: fs.get("project")})
	if err != nil {
		return nil, err
	}

	board := map[string]map[string][]pipeline.Item{}
	for _, item := range items {
		if board[item.Type] == nil {
			board[item.Type] = map[string][]pipeline.Item{}
		}

		board[item.Type][item.Stage] = append(board[item.Type][item.Stage], item)
	}

	return board, nil
}
