// Package mcpserver exposes the task service as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/podushkina/asynctask/internal/service"
	"github.com/podushkina/asynctask/internal/task"
	"github.com/sirupsen/logrus"
)

const (
	Name    = "asynctask"
	Version = "0.1.0"

	ToolSubmit = "submit_task"
	ToolStatus = "check_task_status"
)

type Server struct {
	mcp     *server.MCPServer
	service *service.Service
	log     *logrus.Entry
}

// New registers the tools. defaultDelay and defaultTimeout are only
// advertised in the input schema; the service applies them.
func New(svc *service.Service, defaultDelay, defaultTimeout time.Duration, logger logrus.FieldLogger) *Server {
	s := &Server{
		mcp:     server.NewMCPServer(Name, Version, server.WithToolCapabilities(false), server.WithRecovery()),
		service: svc,
		log:     logger.WithField("component", "mcp"),
	}

	s.mcp.AddTool(mcp.NewTool(ToolSubmit,
		mcp.WithDescription("Start processing a task asynchronously. Returns a task id to poll with "+ToolStatus+"."),
		mcp.WithString("input",
			mcp.Required(),
			mcp.Description("The input to process"),
		),
		mcp.WithNumber("delayMs",
			mcp.Description("Optional delay in milliseconds to simulate processing time"),
			mcp.DefaultNumber(float64(defaultDelay.Milliseconds())),
		),
		mcp.WithNumber("timeoutMs",
			mcp.Description("Optional timeout in milliseconds"),
			mcp.DefaultNumber(float64(defaultTimeout.Milliseconds())),
		),
	), s.handleSubmit)

	s.mcp.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Check the status of an async task. Waits briefly for progress before answering."),
		mcp.WithString("taskId",
			mcp.Required(),
			mcp.Description("The task ID returned by "+ToolSubmit),
		),
	), s.handleStatus)

	return s
}

// Serve speaks MCP on in/out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.log.WriterLevel(logrus.ErrorLevel), "", 0))

	s.log.Info("serving MCP on stdio")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	input, ok := args["input"].(string)
	if !ok {
		return mcp.NewToolResultError("invalid " + ToolSubmit + " arguments: input must be a string"), nil
	}
	delay, ok := optionalMillis(args, "delayMs")
	if !ok {
		return mcp.NewToolResultError("invalid " + ToolSubmit + " arguments: delayMs must be a number of milliseconds in range"), nil
	}
	timeout, ok := optionalMillis(args, "timeoutMs")
	if !ok {
		return mcp.NewToolResultError("invalid " + ToolSubmit + " arguments: timeoutMs must be a number of milliseconds in range"), nil
	}

	id, err := s.service.Submit(ctx, service.SubmitRequest{Input: input, Delay: delay, Timeout: timeout})
	if err != nil {
		return s.toolError(err)
	}
	return jsonResult(struct {
		TaskID string `json:"taskId"`
	}{id})
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := req.GetArguments()["taskId"].(string)
	if !ok {
		return mcp.NewToolResultError("invalid " + ToolStatus + " arguments: taskId must be a string"), nil
	}

	snap, err := s.service.Query(ctx, id)
	if err != nil {
		return s.toolError(err)
	}
	return jsonResult(snap)
}

// toolError reports the task errors callers can act on as tool results;
// anything else is an internal failure of the server.
func (s *Server) toolError(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, task.ErrCapacityExceeded),
		errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, task.ErrTaskTimedOut):
		return mcp.NewToolResultError(err.Error()), nil
	default:
		s.log.WithError(err).Error("tool call failed")
		return nil, err
	}
}

func optionalMillis(args map[string]any, key string) (*time.Duration, bool) {
	v, present := args[key]
	if !present || v == nil {
		return nil, true
	}
	n, ok := v.(float64)
	if !ok {
		return nil, false
	}
	d, ok := service.Millis(n)
	if !ok {
		return nil, false
	}
	return &d, true
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
