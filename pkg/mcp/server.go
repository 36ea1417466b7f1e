package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sameehj/execbridge/pkg/tool"
	"github.com/sameehj/execbridge/pkg/types"
)

// Tools is the tool surface the server dispatches to.
type Tools interface {
	Definitions() []tool.Definition
	Call(ctx context.Context, name string, args json.RawMessage) (any, error)
}

type Server struct {
	tools   Tools
	name    string
	version string
	logger  *slog.Logger
}

func NewServer(tools Tools, name, version string) *Server {
	return &Server{tools: tools, name: name, version: version}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

type framing int

const (
	framingHeader framing = iota
	framingLine
)

// Serve reads requests from reader until EOF. Each request is handled on its
// own goroutine so a long-running tool never blocks the channel; responses
// are written one at a time in the framing the request arrived in. Serve
// returns once every in-flight request has been answered.
func (s *Server) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	bufReader := bufio.NewReader(reader)
	bufWriter := bufio.NewWriter(writer)

	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	defer wg.Wait()

	for {
		payload, frame, err := readMessage(bufReader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logError("mcp_read_failed", "error", err)
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.Handle(ctx, payload)
			if resp == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := writeMessage(bufWriter, resp, frame); err != nil {
				s.logError("mcp_write_failed", "error", err)
			}
		}()
	}
}

func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Handle processes one JSON-RPC message and returns the encoded response,
// or nil when the message is a notification.
func (s *Server) Handle(ctx context.Context, payload []byte) []byte {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logWarn("mcp_parse_error", "error", err)
		return encode(errorResponse(json.RawMessage("null"), codeParseError, "parse error", err.Error()))
	}
	if req.Method == "" {
		if req.isNotification() {
			return nil
		}
		return encode(errorResponse(req.ID, codeInvalidRequest, "invalid request", "missing method"))
	}

	result, rpcErr := s.dispatch(ctx, req)
	if req.isNotification() {
		return nil
	}
	if rpcErr != nil {
		return encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
	}
	return encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		var params initializeParams
		_ = json.Unmarshal(req.Params, &params)
		version := params.ProtocolVersion
		if version == "" {
			version = protocolVersion
		}
		s.logInfo("mcp_initialize", "client", params.ClientInfo.Name, "client_version", params.ClientInfo.Version, "protocol", version)
		return map[string]any{
			"protocolVersion": version,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    s.name,
				"version": s.version,
			},
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": s.tools.Definitions()}, nil
	case "tools/call":
		var call toolCallParams
		if err := json.Unmarshal(req.Params, &call); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params", Data: err.Error()}
		}
		if call.Name == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params", Data: "missing tool name"}
		}
		return s.callTool(ctx, call), nil
	}
	if strings.HasPrefix(req.Method, "notifications/") {
		return map[string]any{}, nil
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found", Data: req.Method}
}

// callTool runs a tool. Tool failures are reported inside the result with
// isError set so the calling agent can read and react to them.
func (s *Server) callTool(ctx context.Context, call toolCallParams) ToolResult {
	out, err := s.tools.Call(ctx, call.Name, call.Arguments)
	if err != nil {
		return errorResult(err)
	}
	text, merr := json.MarshalIndent(out, "", "  ")
	if merr != nil {
		return errorResult(fmt.Errorf("encode result: %w", merr))
	}
	return ToolResult{
		Content:           []ToolContent{{Type: "text", Text: string(text)}},
		StructuredContent: out,
	}
}

func errorResult(err error) ToolResult {
	var payload types.Payload
	var typed *types.Error
	if errors.As(err, &typed) {
		payload = typed.Payload()
	} else {
		payload = types.Payload{Kind: "internal", Message: err.Error()}
	}
	body := map[string]any{"error": payload}
	text, _ := json.MarshalIndent(body, "", "  ")
	return ToolResult{
		Content:           []ToolContent{{Type: "text", Text: string(text)}},
		IsError:           true,
		StructuredContent: body,
	}
}

func errorResponse(id json.RawMessage, code int, message string, data any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message, Data: data}}
}

func encode(resp rpcResponse) []byte {
	payload, err := json.Marshal(resp)
	if err != nil {
		payload, _ = json.Marshal(errorResponse(resp.ID, -32603, "internal error", err.Error()))
	}
	return payload
}

func writeMessage(w *bufio.Writer, payload []byte, frame framing) error {
	if frame == framingLine {
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		return w.Flush()
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// readMessage reads one message in either Content-Length framing or as a
// single line of JSON.
func readMessage(r *bufio.Reader) ([]byte, framing, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil && len(line) == 0 {
			return nil, framingHeader, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(trimmed) == "" {
			if err != nil {
				return nil, framingHeader, err
			}
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(trimmed), "{") || strings.HasPrefix(strings.TrimSpace(trimmed), "[") {
			return []byte(strings.TrimSpace(trimmed)), framingLine, nil
		}

		contentLength := -1
		header := trimmed
		for {
			if name, value, ok := strings.Cut(header, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "content-length") {
				length, parseErr := strconv.Atoi(strings.TrimSpace(value))
				if parseErr != nil || length < 0 {
					return nil, framingHeader, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))
				}
				contentLength = length
			}
			next, readErr := r.ReadString('\n')
			if readErr != nil && len(next) == 0 {
				return nil, framingHeader, readErr
			}
			header = strings.TrimRight(next, "\r\n")
			if header == "" {
				break
			}
		}

		if contentLength < 0 {
			return nil, framingHeader, errors.New("missing Content-Length")
		}
		payload := make([]byte, contentLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, framingHeader, err
		}
		return payload, framingHeader, nil
	}
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
