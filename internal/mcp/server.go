package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const protocolVersion = "2024-11-05"

// Server implements an MCP stdio server that delegates to the HTTP memory server.
type Server struct {
	serverURL string
	userID    string
	apiKey    string
	client    *http.Client
}

// NewServer creates a new MCP server acting on behalf of userID.
func NewServer(serverURL, userID, apiKey string) *Server {
	return &Server{
		serverURL: strings.TrimRight(serverURL, "/"),
		userID:    userID,
		apiKey:    apiKey,
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// Run serves stdin/stdout until stdin is closed.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads newline-delimited JSON-RPC requests from in and writes responses to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	// Increase buffer for large messages
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := enc.Encode(errorResponse(nil, codeParseError, "parse error: "+err.Error())); err != nil {
				return err
			}
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	return scanner.Err()
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: InitializeResult{
				ProtocolVersion: protocolVersion,
				Capabilities:    ServerCapabilities{Tools: &ToolCapabilities{}},
				ServerInfo:      ServerInfo{Name: "user-memory", Version: "1.0.0"},
			},
		}
	case "notifications/initialized", "initialized":
		return nil
	case "tools/list":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: ToolDefinitions()}}
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]string{}}
	default:
		if req.ID == nil {
			return nil
		}
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}

	result, isError := s.dispatchTool(ctx, params.Name, params.Arguments)

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func (s *Server) dispatchTool(ctx context.Context, name string, args map[string]any) (string, bool) {
	switch name {
	case "memory_context":
		return s.toolContext(ctx, args)
	case "memory_extract":
		return s.toolExtract(ctx, args)
	case "memory_list":
		return s.toolList(ctx, args)
	case "memory_remember":
		return s.toolRemember(ctx, args)
	case "memory_forget":
		return s.toolForget(ctx, args)
	default:
		return fmt.Sprintf("unknown tool: %s", name), true
	}
}

// --- Tool implementations (HTTP delegation) ---

func (s *Server) toolContext(ctx context.Context, args map[string]any) (string, bool) {
	body := map[string]any{
		"message": getString(args, "message"),
		"limit":   int(getFloat(args, "limit", 5)),
	}
	return s.httpDo(ctx, http.MethodPost, "/memories/context", body)
}

func (s *Server) toolExtract(ctx context.Context, args map[string]any) (string, bool) {
	chatID := getString(args, "chatId")
	if chatID == "" {
		return "chatId is required", true
	}
	body := map[string]any{"exchangeId": getString(args, "exchangeId")}
	return s.httpDo(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/extract-memories", body)
}

func (s *Server) toolList(ctx context.Context, args map[string]any) (string, bool) {
	q := url.Values{}
	if c := getString(args, "category"); c != "" {
		q.Set("category", c)
	}
	if v := getString(args, "search"); v != "" {
		q.Set("search", v)
	}
	if tags := getStrings(args, "tags"); len(tags) > 0 {
		q.Set("tags", strings.Join(tags, ","))
	}
	q.Set("page", strconv.Itoa(int(getFloat(args, "page", 1))))
	q.Set("pageSize", strconv.Itoa(int(getFloat(args, "pageSize", 20))))
	return s.httpDo(ctx, http.MethodGet, "/memories?"+q.Encode(), nil)
}

func (s *Server) toolRemember(ctx context.Context, args map[string]any) (string, bool) {
	candidate := map[string]any{
		"summary":         getString(args, "summary"),
		"rawContent":      getString(args, "rawContent"),
		"category":        getString(args, "category"),
		"confidenceScore": getFloat(args, "confidence", 0.8),
		"tags":            getStrings(args, "tags"),
	}
	body := map[string]any{"chatId": "mcp", "candidates": []any{candidate}}
	return s.httpDo(ctx, http.MethodPost, "/memories/ingest", body)
}

func (s *Server) toolForget(ctx context.Context, args map[string]any) (string, bool) {
	id := getString(args, "memoryId")
	if id == "" {
		return "memoryId is required", true
	}
	return s.httpDo(ctx, http.MethodPost, "/memories/"+url.PathEscape(id)+"/toggle-active", nil)
}

// --- HTTP helpers ---

func (s *Server) httpDo(ctx context.Context, method, path string, body any) (string, bool) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Sprintf("marshal error: %s", err), true
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.serverURL+path, reader)
	if err != nil {
		return fmt.Sprintf("request error: %s", err), true
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-ID", s.userID)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("HTTP error: %s", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("read error: %s", err), true
	}

	return string(respBody), resp.StatusCode >= 400
}

func errorResponse(id any, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// --- Argument helpers ---

func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func getStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key]; ok {
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		}
	}
	return fallback
}
