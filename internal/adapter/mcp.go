package adapter

import (
	acp "github.com/coder/acp-go-sdk"
)

// MCPServer is an MCP server offered to the agent on session/new.
type MCPServer struct {
	Name string
	// Type is stdio (empty means stdio), http or sse.
	Type    string
	Command string
	Args    []string
	Env     []NameValue
	URL     string
	Headers []NameValue
}

// NameValue is an environment variable or an HTTP header.
type NameValue struct {
	Name  string
	Value string
}

// toACPMcpServers never returns nil: agents reject a missing mcpServers field.
func toACPMcpServers(servers []MCPServer) []acp.McpServer {
	out := make([]acp.McpServer, 0, len(servers))
	for _, srv := range servers {
		switch srv.Type {
		case "http":
			out = append(out, acp.McpServer{
				Http: &acp.McpServerHttpInline{
					Name:    srv.Name,
					Type:    "http",
					Url:     srv.URL,
					Headers: toACPHeaders(srv.Headers),
				},
			})
		case "sse":
			out = append(out, acp.McpServer{
				Sse: &acp.McpServerSseInline{
					Name:    srv.Name,
					Type:    "sse",
					Url:     srv.URL,
					Headers: toACPHeaders(srv.Headers),
				},
			})
		default:
			env := make([]acp.EnvVariable, 0, len(srv.Env))
			for _, e := range srv.Env {
				env = append(env, acp.EnvVariable{Name: e.Name, Value: e.Value})
			}
			out = append(out, acp.McpServer{
				Stdio: &acp.McpServerStdio{
					Name:    srv.Name,
					Command: srv.Command,
					Args:    append([]string{}, srv.Args...),
					Env:     env,
				},
			})
		}
	}
	return out
}

func toACPHeaders(headers []NameValue) []acp.HttpHeader {
	out := make([]acp.HttpHeader, 0, len(headers))
	for _, h := range headers {
		out = append(out, acp.HttpHeader{Name: h.Name, Value: h.Value})
	}
	return out
}
