package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/HyphaGroup/airops-go/internal/auth"
	"github.com/HyphaGroup/airops-go/internal/config"
)

func cmdToken(args []string) {
	if len(args) < 1 {
		printTokenUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory holding airops.jsonc")
	name := fs.String("name", "", "Human-readable token name (create)")
	scope := fs.String("scope", auth.ScopeRead, "Token scope: read or write (create)")
	expires := fs.Duration("expires", 0, "Token lifetime, e.g. 720h (create, default: never)")
	_ = fs.Parse(args[1:])

	cmd := args[0]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printTokenUsage()
		return
	}

	cfg, err := config.LoadAll(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	store, err := auth.NewStore(cfg.Storage.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing auth store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	switch cmd {
	case "create":
		err = tokenCreate(store, *name, *scope, *expires)
	case "list":
		err = tokenList(store)
	case "revoke":
		err = tokenRevoke(store, fs.Args())
	default:
		fmt.Fprintf(os.Stderr, "Unknown token command: %s\n", cmd)
		printTokenUsage()
		_ = store.Close()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = store.Close()
		os.Exit(1)
	}
}

func printTokenUsage() {
	fmt.Println(`Token Management

Usage: airops-mcp token <command> [options]

Commands:
  create    Create a new API token
  list      List all tokens
  revoke    Revoke a token
  help      Show this help

Scopes:
  read      List apps, read executions, history and schedules
  write     Every tool, including execute, chat, cancel and schedule changes

Tokens are only checked when server.require_auth is true and the server
runs with --http.

Examples:
  airops-mcp token create --name "Local Dev" --scope write
  airops-mcp token create --name "Dashboard" --scope read --expires 720h
  airops-mcp token list
  airops-mcp token revoke aops_xxxx...`)
}

func tokenCreate(store *auth.Store, name, scope string, expires time.Duration) error {
	if name == "" {
		return fmt.Errorf("--name is required")
	}

	var expiresAt *time.Time
	if expires > 0 {
		t := time.Now().Add(expires)
		expiresAt = &t
	}

	token, tokenID, err := store.CreateToken(name, scope, expiresAt)
	if err != nil {
		return err
	}

	fmt.Println("Token created successfully!")
	fmt.Println()
	fmt.Printf("Token ID: %s\n", tokenID)
	fmt.Printf("Name:     %s\n", token.Name)
	fmt.Printf("Scope:    %s\n", token.Scope)
	if token.ExpiresAt != nil {
		fmt.Printf("Expires:  %s\n", token.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println()
	fmt.Println("IMPORTANT: Save this token now. It cannot be retrieved later.")
	return nil
}

func tokenList(store *auth.Store) error {
	tokens, err := store.ListTokens()
	if err != nil {
		return err
	}

	if len(tokens) == 0 {
		fmt.Println("No tokens found.")
		fmt.Println()
		fmt.Println("Create one with: airops-mcp token create --name \"My Token\" --scope write")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSCOPE\tCREATED\tLAST USED\tEXPIRES")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------\t---------\t-------")

	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		expires := "never"
		if t.ExpiresAt != nil {
			expires = t.ExpiresAt.Local().Format("2006-01-02 15:04")
			if t.Expired(time.Now()) {
				expires += " (expired)"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			auth.MaskID(t.ID),
			t.Name,
			t.Scope,
			t.CreatedAt.Local().Format("2006-01-02 15:04"),
			lastUsed,
			expires,
		)
	}
	return w.Flush()
}

func tokenRevoke(store *auth.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("token ID required\nUsage: airops-mcp token revoke <token_id>")
	}

	tokenID := args[0]
	if err := store.RevokeToken(tokenID); err != nil {
		return err
	}

	fmt.Printf("Token %s revoked successfully.\n", auth.MaskID(tokenID))
	return nil
}
