// ABOUTME: Operator CLI for the loom persistence layer
// ABOUTME: Initializes the schema and inspects or deletes stored conversation data

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = cmdInit()
	case "users":
		err = cmdUsers()
	case "threads":
		err = cmdThreads()
	case "thread":
		err = cmdThread(args)
	case "delete-thread":
		err = cmdDeleteThread(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: loomctl <command> [args]

Commands:
  init                   Create tables and indexes if absent
  users                  List users
  threads                List threads
  thread <id>            Show a thread's step timeline
  delete-thread <id>     Hard-delete a thread and everything it owns

Config is read from $LOOM_CONFIG, or defaults to an embedded store
at ~/.loom/loom.db.`)
}

// openStore loads configuration and connects to the configured backend.
func openStore(ctx context.Context) (*store.SQLStore, error) {
	cfg, err := config.LoadOrDefault(os.Getenv("LOOM_CONFIG"))
	if err != nil {
		return nil, err
	}
	return cfg.Open(ctx)
}

func cmdInit() error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	color.Green("Schema ready (%s)", s.Dialect().Name())
	return nil
}

func cmdUsers() error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.ListUsers(ctx, 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tIDENTIFIER\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.Identifier, u.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdThreads() error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	threads, err := s.ListThreads(ctx, 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSER\tTAGS\tCREATED")
	for _, t := range threads {
		name, user := "-", "-"
		if t.Name != nil {
			name = *t.Name
		}
		if t.UserID != nil {
			user = *t.UserID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, name, user, strings.Join(t.Tags, ","), t.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdThread(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: loomctl thread <id>")
	}
	threadID := args[0]

	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return err
	}

	name := "(unnamed)"
	if thread.Name != nil {
		name = *thread.Name
	}
	fmt.Printf("Thread %s  %s  created %s\n", thread.ID, name, thread.CreatedAt.Format(time.RFC3339))
	if thread.DeletedAt != nil {
		color.Yellow("  soft-deleted at %s", thread.DeletedAt.Format(time.RFC3339))
	}

	steps, err := s.ListSteps(ctx, threadID)
	if err != nil {
		return err
	}
	for _, node := range store.BuildStepTree(steps) {
		printStepNode(node, 1)
	}

	if _, ok, err := s.LoadState(ctx, threadID); err != nil {
		return err
	} else if ok {
		fmt.Println("Checkpoint: present")
	} else {
		fmt.Println("Checkpoint: absent")
	}
	return nil
}

func printStepNode(node *store.StepNode, depth int) {
	step := node.Step
	status := "closed"
	if step.Open() {
		status = "open"
	}
	marker := ""
	if step.IsError {
		marker = "  [error]"
	}
	fmt.Printf("%s%s %s (%s, %s)%s\n",
		strings.Repeat("  ", depth), step.Start.Format("15:04:05"),
		step.Name, step.Type, status, marker)
	for _, child := range node.Children {
		printStepNode(child, depth+1)
	}
}

func cmdDeleteThread(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: loomctl delete-thread <id>")
	}
	threadID := args[0]

	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	color.Green("Deleted thread %s and all dependent rows", threadID)
	return nil
}
