package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Smoke-tests a built MCP server. Set ANALYSISOPS_SMOKE_HOST, _USER and
// _PASSWORD (or _KEY) to also exercise a real SSH session.
func main() {
	loadEnvFile("env/.env")

	fmt.Println("Testing analysisops MCP server and tool calling")
	fmt.Println("===============================================")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	serverPath := findServerBinary()
	if serverPath == "" {
		log.Fatal("MCP server binary not found. Run: go build -o analysisops-mcp ./cmd/mcp")
	}
	fmt.Println("ok   1: MCP server binary found")

	cmd := exec.Command(serverPath, "-quiet")
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr
	transport := &mcp.CommandTransport{Command: cmd}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		log.Fatalf("Failed to connect to MCP server: %v", err)
	}
	defer session.Close()
	fmt.Println("ok   2: connected to MCP server")

	listResult, err := session.ListTools(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to list tools: %v", err)
	}
	fmt.Printf("ok   3: found %d tools\n", len(listResult.Tools))
	for _, tool := range listResult.Tools {
		fmt.Printf("       - %s\n", tool.Name)
	}

	check(ctx, session, 4, "session_status", map[string]interface{}{})
	check(ctx, session, 5, "get_job_history", map[string]interface{}{"limit": 5})

	host := os.Getenv("ANALYSISOPS_SMOKE_HOST")
	if host == "" {
		fmt.Println("skip 6: ANALYSISOPS_SMOKE_HOST not set, no SSH checks")
	} else {
		port, _ := strconv.Atoi(os.Getenv("ANALYSISOPS_SMOKE_PORT"))
		if check(ctx, session, 6, "connect", map[string]interface{}{
			"host":     host,
			"port":     port,
			"username": os.Getenv("ANALYSISOPS_SMOKE_USER"),
			"password": os.Getenv("ANALYSISOPS_SMOKE_PASSWORD"),
			"key_file": os.Getenv("ANALYSISOPS_SMOKE_KEY"),
		}) {
			check(ctx, session, 7, "check_deploy_status", map[string]interface{}{})
			if db := os.Getenv("ANALYSISOPS_SMOKE_DB"); db != "" {
				check(ctx, session, 8, "get_table_info", map[string]interface{}{"db_path": db})
			}
			check(ctx, session, 9, "disconnect", map[string]interface{}{})
		}
	}

	check(ctx, session, 10, "get_recent_events", map[string]interface{}{"limit": 20})

	fmt.Println("\n===============================================")
	fmt.Println("MCP tool calling smoke test complete")
}

// check calls a tool and prints a one-line verdict with a preview of the output.
func check(ctx context.Context, session *mcp.ClientSession, n int, tool string, args map[string]interface{}) bool {
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		fmt.Printf("FAIL %d: %s: %v\n", n, tool, err)
		return false
	}
	verdict := "ok  "
	if res.IsError {
		verdict = "FAIL"
	}
	preview := ""
	for _, content := range res.Content {
		if v, ok := content.(*mcp.TextContent); ok {
			preview = v.Text
			break
		}
	}
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	fmt.Printf("%s %d: %s %s\n", verdict, n, tool, preview)
	return !res.IsError
}

func findServerBinary() string {
	candidates := []string{
		"./analysisops-mcp",
		"../../analysisops-mcp",
	}
	for _, p := range candidates {
		if abs, err := filepath.Abs(p); err == nil {
			if _, err := os.Stat(abs); err == nil {
				return abs
			}
		}
	}
	return ""
}

func loadEnvFile(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}

	file, err := os.Open(absPath)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, `"'`)
			os.Setenv(key, value)
		}
	}
}
