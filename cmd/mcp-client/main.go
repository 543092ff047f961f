package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: mcp-client <server-command> [<args>]")
		fmt.Fprintln(os.Stderr, "Example: mcp-client ./analysisops-mcp -config analysisops.toml")
		os.Exit(2)
	}

	ctx := context.Background()

	// Start the server as a subprocess
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	transport := &mcp.CommandTransport{Command: cmd}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "analysisops-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer session.Close()

	fmt.Println("Connected to analysisops MCP server!")
	fmt.Println("Available commands:")
	fmt.Println("  /tools                              - List available tools")
	fmt.Println("  /connect <user@host[:port]> [key]   - Open an SSH session (password from ANALYSISOPS_PASSWORD)")
	fmt.Println("  /disconnect                         - Close the SSH session")
	fmt.Println("  /info <db>                          - Show tables and time range")
	fmt.Println("  /query <db> <kind> <start> <end> [sn]")
	fmt.Println("  /export <db> <start> <end> <out.csv> [sn]")
	fmt.Println("  /demand <db> <start> <end> <out.csv> [sn]")
	fmt.Println("  /status                             - Check the deployed service")
	fmt.Println("  /deploy <local> <remote> [restart]  - Upload one file")
	fmt.Println("  /jobs [kind] [limit]                - Show the job ledger")
	fmt.Println("  /events [limit]                     - Show recent events")
	fmt.Println("  /exit                               - Exit the client")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		parts := strings.Fields(input)

		switch parts[0] {
		case "/exit":
			fmt.Println("Goodbye!")
			return

		case "/tools":
			listTools(ctx, session)

		case "/connect":
			if len(parts) < 2 {
				fmt.Println("usage: /connect <user@host[:port]> [key]")
				continue
			}
			callArgs, err := parseTarget(parts[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			if len(parts) > 2 {
				callArgs["key_file"] = parts[2]
			}
			if pw := os.Getenv("ANALYSISOPS_PASSWORD"); pw != "" {
				callArgs["password"] = pw
			}
			callTool(ctx, session, "connect", callArgs)

		case "/disconnect":
			callTool(ctx, session, "disconnect", map[string]interface{}{})

		case "/info":
			if len(parts) < 2 {
				fmt.Println("usage: /info <db>")
				continue
			}
			callTool(ctx, session, "get_table_info", map[string]interface{}{"db_path": parts[1]})

		case "/query":
			if len(parts) < 5 {
				fmt.Println("usage: /query <db> <kind> <start> <end> [sn]")
				continue
			}
			callArgs := map[string]interface{}{
				"db_path":    parts[1],
				"query_kind": parts[2],
				"start_time": atoi(parts[3]),
				"end_time":   atoi(parts[4]),
			}
			if len(parts) > 5 {
				callArgs["device_serial"] = parts[5]
			}
			callTool(ctx, session, "execute_query", callArgs)

		case "/export", "/demand":
			if len(parts) < 5 {
				fmt.Println("usage: " + parts[0] + " <db> <start> <end> <out.csv> [sn]")
				continue
			}
			callArgs := map[string]interface{}{
				"db_path":     parts[1],
				"start_time":  atoi(parts[2]),
				"end_time":    atoi(parts[3]),
				"output_path": parts[4],
			}
			if len(parts) > 5 {
				callArgs["device_serial"] = parts[5]
			}
			tool := "export_wide_table"
			if parts[0] == "/demand" {
				tool = "export_demand_results"
			}
			callTool(ctx, session, tool, callArgs)

		case "/status":
			callTool(ctx, session, "check_deploy_status", map[string]interface{}{})

		case "/deploy":
			if len(parts) < 3 {
				fmt.Println("usage: /deploy <local> <remote> [restart]")
				continue
			}
			callTool(ctx, session, "deploy_application", map[string]interface{}{
				"files":          []map[string]string{{"localPath": parts[1], "remotePath": parts[2]}},
				"useRoot":        true,
				"restartService": len(parts) > 3 && parts[3] == "restart",
			})

		case "/jobs":
			callArgs := map[string]interface{}{}
			if len(parts) > 1 {
				callArgs["kind"] = parts[1]
			}
			if len(parts) > 2 {
				callArgs["limit"] = atoi(parts[2])
			}
			callTool(ctx, session, "get_job_history", callArgs)

		case "/events":
			callArgs := map[string]interface{}{}
			if len(parts) > 1 {
				callArgs["limit"] = atoi(parts[1])
			}
			callTool(ctx, session, "get_recent_events", callArgs)

		default:
			fmt.Println("Unknown command, try /tools")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Scanner error: %v", err)
	}
}

// parseTarget splits user@host[:port].
func parseTarget(s string) (map[string]interface{}, error) {
	user, hostport, ok := strings.Cut(s, "@")
	if !ok || user == "" || hostport == "" {
		return nil, fmt.Errorf("target must look like user@host[:port]")
	}
	args := map[string]interface{}{"username": user, "host": hostport}
	if host, port, ok := strings.Cut(hostport, ":"); ok {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", port)
		}
		args["host"], args["port"] = host, n
	}
	return args, nil
}

func atoi(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Printf("not a number: %q", s)
	}
	return n
}

func listTools(ctx context.Context, session *mcp.ClientSession) {
	fmt.Println("Available Tools:")
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			log.Printf("Error listing tools: %v", err)
			return
		}
		fmt.Printf("  - %s: %s\n", tool.Name, tool.Description)
	}
	fmt.Println()
}

func callTool(ctx context.Context, session *mcp.ClientSession, toolName string, args map[string]interface{}) {
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		log.Printf("Error calling tool: %v", err)
		return
	}

	printResult(result)
}

func printResult(result *mcp.CallToolResult) {
	if result.IsError {
		fmt.Printf("Error: ")
	} else {
		fmt.Printf("Result: ")
	}

	for _, content := range result.Content {
		switch v := content.(type) {
		case *mcp.TextContent:
			fmt.Println(v.Text)
		default:
			jsonData, err := json.MarshalIndent(content, "", "  ")
			if err != nil {
				fmt.Printf("%+v\n", content)
			} else {
				fmt.Println(string(jsonData))
			}
		}
	}
	fmt.Println()
}
