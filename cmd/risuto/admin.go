package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ekleog/risuto/internal/auth"
	"github.com/Ekleog/risuto/internal/config"
	"github.com/Ekleog/risuto/internal/server"
	"github.com/Ekleog/risuto/internal/store"
)

// withCoordinator opens the configured store and hands a loaded coordinator
// to fn, for one-shot administrative commands.
func withCoordinator(fn func(ctx context.Context, coord *server.Coordinator) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	coord, err := server.NewCoordinator(ctx, st, log.New(io.Discard, "", 0))
	if err != nil {
		return fmt.Errorf("load projection: %w", err)
	}
	return fn(ctx, coord)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(func(ctx context.Context, coord *server.Coordinator) error {
			u, err := coord.CreateUser(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created user %s (%s)\n", u.Name, u.ID)
			return nil
		})
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tags",
}

var tagAddCmd = &cobra.Command{
	Use:   "add <owner> <name>",
	Short: "Create a tag owned by a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(func(ctx context.Context, coord *server.Coordinator) error {
			owner, err := coord.UserByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("unknown user %q: %w", args[0], err)
			}
			t, err := coord.CreateTag(ctx, owner.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Created tag %s (%s) owned by %s\n", t.Name, t.ID, owner.Name)
			return nil
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <user> <tag> <caps>",
	Short: "Grant per-tag capabilities to a user",
	Long: `Grant capabilities on a tag to a user. Grants only ever widen.

caps is a comma-separated list of edit, triage, relabel, comment, archive,
or the word all. An empty grant (the word none) still gives read access to
every task carrying the tag.

Example usage:
  risuto grant bob work comment,triage
  risuto grant carol work none`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(func(ctx context.Context, coord *server.Coordinator) error {
			user, err := coord.UserByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("unknown user %q: %w", args[0], err)
			}
			tagID, ok := coord.TagLookup()(args[1])
			if !ok {
				return fmt.Errorf("unknown tag %q", args[1])
			}
			caps, err := parseCaps(args[2])
			if err != nil {
				return err
			}
			if err := coord.Grant(ctx, auth.Grant{Tag: tagID, User: user.ID, Caps: caps}); err != nil {
				return err
			}
			fmt.Printf("Granted %s on %s to %s\n", args[2], args[1], user.Name)
			return nil
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <owner> <title>",
	Short: "Create a task owned by a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(func(ctx context.Context, coord *server.Coordinator) error {
			owner, err := coord.UserByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("unknown user %q: %w", args[0], err)
			}
			meta, err := coord.CreateTask(ctx, owner.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Created task %s: %s\n", meta.ID, meta.Title)
			return nil
		})
	},
}

func parseCaps(spec string) (auth.Caps, error) {
	caps := auth.None()
	for _, part := range strings.Split(spec, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "all":
			caps = auth.All()
		case "edit":
			caps.Edit = true
		case "triage":
			caps.Triage = true
		case "relabel":
			caps.RelabelToAny = true
		case "comment":
			caps.Comment = true
		case "archive":
			caps.Archive = true
		case "none", "":
		default:
			return auth.Caps{}, fmt.Errorf("unknown capability %q", part)
		}
	}
	return caps, nil
}

func init() {
	userCmd.AddCommand(userAddCmd)
	tagCmd.AddCommand(tagAddCmd)
	taskCmd.AddCommand(taskAddCmd)
	rootCmd.AddCommand(userCmd, tagCmd, grantCmd, taskCmd)
}
