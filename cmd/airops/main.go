package main

import (
	"fmt"
	"os"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "execute":
		err = cmdExecute(os.Args[2:])
	case "chat":
		err = cmdChat(os.Args[2:])
	case "get":
		err = cmdGet(os.Args[2:])
	case "cancel":
		err = cmdCancel(os.Args[2:])
	case "history":
		err = cmdHistory(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("airops %s\n", Version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`airops %s - AirOps apps from the command line

Usage: airops <command> [options]

Commands:
  execute <app>               Run an app and print its output
  chat <app> <message...>     Send a message to an agent app
  get <app> <execution-id>    Show an execution
  cancel <app> <execution-id> Cancel a running execution
  history                     List recorded executions and chats
  version                     Print version

Common Options:
  --config <dir>     Directory holding airops.jsonc

Config Precedence:
  1. --config flag
  2. AIROPS_HOME env var
  3. ./config/airops.jsonc
  4. ~/.airops/config/airops.jsonc
  5. built-in defaults

Examples:
  airops execute summarize --input text="long article"
  airops execute 7 --inputs '{"text":"hi"}' --stream
  airops chat assistant "What changed this week?"
  airops chat assistant --session sess-1 "And last week?"
  airops get summarize 101 --wait
  airops history --unresolved
  airops history --prune 720h
`, Version)
}
