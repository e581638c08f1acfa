package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ekleog/risuto/internal/config"
	"github.com/Ekleog/risuto/internal/project"
	"github.com/Ekleog/risuto/internal/query"
	"github.com/Ekleog/risuto/internal/server"
	"github.com/Ekleog/risuto/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Compile a search query, optionally run it",
	Long: `Compile a search query and print the predicate tree as JSON.

With --user, the query also runs against the projected state in the
configured database, printing the tasks visible to that user which match.

Query syntax:
  words and "quoted phrases" match title and comment text
  tag:<name> done:<bool> archived:<bool> untagged:<bool> today:<bool>
  scheduled:<date> blocked:<date> with date forms today, today+N, YYYY-MM-DD
  and comparators > >= < <=
  - or not negates; and/or combine, left to right

Example usage:
  risuto search 'tag:work -done:true "quarterly report"'
  risuto search --user alice 'scheduled:>=today'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		quiet := log.New(io.Discard, "", 0)
		coord, err := server.NewCoordinator(ctx, st, quiet)
		if err != nil {
			return fmt.Errorf("load projection: %w", err)
		}
		if tz := cfg.Query.Timezone; tz != "" {
			if err := coord.SetTimezone(tz); err != nil {
				return err
			}
		}

		pred, err := query.Compile(args[0], coord.TagLookup())
		if err != nil {
			return err
		}
		tree, err := query.Marshal(pred)
		if err != nil {
			return err
		}
		fmt.Println(string(tree))

		userName, _ := cmd.Flags().GetString("user")
		if userName == "" {
			return nil
		}
		user, err := coord.UserByName(ctx, userName)
		if err != nil {
			return fmt.Errorf("unknown user %q: %w", userName, err)
		}

		if saveName, _ := cmd.Flags().GetString("save"); saveName != "" {
			order := project.Order{Kind: project.OrderCreationDate}
			saved, err := coord.SaveSearch(ctx, user.ID, saveName, args[0], order)
			if err != nil {
				return err
			}
			fmt.Printf("Saved search %q (%s)\n", saved.Name, saved.ID)
		}
		matched, err := coord.Search(ctx, user.ID, args[0], project.Order{Kind: project.OrderCreationDate}, nil)
		if err != nil {
			return err
		}

		fmt.Printf("\n%d matching task(s):\n", len(matched))
		for _, task := range matched {
			marks := make([]string, 0, 2)
			if task.Done {
				marks = append(marks, "done")
			}
			if task.Archived {
				marks = append(marks, "archived")
			}
			suffix := ""
			if len(marks) > 0 {
				suffix = " (" + strings.Join(marks, ", ") + ")"
			}
			fmt.Printf("  %s  %s%s\n", task.ID, task.Title, suffix)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringP("user", "u", "", "Evaluate the query as this user")
	searchCmd.Flags().String("save", "", "Also store the query as a saved search with this name (requires --user)")
	rootCmd.AddCommand(searchCmd)
}
