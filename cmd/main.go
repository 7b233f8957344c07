package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/issuemirror/config"
	"github.com/wesm/issuemirror/internal/api"
	"github.com/wesm/issuemirror/internal/cache"
	"github.com/wesm/issuemirror/internal/db"
	"github.com/wesm/issuemirror/internal/diff"
	"github.com/wesm/issuemirror/internal/edit"
	"github.com/wesm/issuemirror/internal/inherit"
	"github.com/wesm/issuemirror/internal/logging"
	"github.com/wesm/issuemirror/internal/models"
	issuesync "github.com/wesm/issuemirror/internal/sync"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "issuemirror",
	Short: "Mirror GitHub issues, labels, milestones and collaborators locally",
	Long: fmt.Sprintf(`issuemirror keeps an in-memory mirror of GitHub repositories in sync
using conditional requests, and keeps child issues' labels consistent with
their parents.

GitHub token can be provided via the %s environment variable.`, config.EnvGithubToken),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file if it doesn't exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default configuration: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", configPath)
		return nil
	},
}

var addRepoCmd = &cobra.Command{
	Use:   "add-repo owner/name",
	Short: "Add a repository to the configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := args[0]
		if _, _, err := models.ParseRepositoryString(repo); err != nil {
			return fmt.Errorf("invalid repository format: %w", err)
		}

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if !cfg.AddRepository(repo) {
			fmt.Printf("Repository %s already exists in configuration\n", repo)
			return nil
		}
		if err := config.SaveConfig(cfg, configPath); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		fmt.Printf("Added repository %s to configuration\n", repo)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open [owner/name...]",
	Short: "Load repositories, run one refresh and print a summary",
	Long:  "Load the given repositories, or every configured one, run one refresh cycle and print what is cached.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		repos := args
		if len(repos) == 0 {
			repos = a.cfg.Repositories
		}
		a.openAll(cmd.Context(), repos)
		if err := a.coord.RefreshAll(cmd.Context()); err != nil {
			a.logger.Warn("refresh finished with errors", "err", err)
		}

		for _, id := range a.coord.Repositories() {
			c, _ := a.coord.Cache(id)
			fmt.Printf("%s\n", id)
			fmt.Printf("   Issues: %d\n", len(c.Issues()))
			fmt.Printf("   Labels: %d\n", len(c.Labels()))
			fmt.Printf("   Milestones: %d\n", len(c.Milestones()))
			fmt.Printf("   Collaborators: %d\n", len(c.Collaborators()))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep every configured repository refreshed until interrupted",
	Long: `Open every configured repository and refresh them periodically.

The configuration file is watched: newly listed repositories are opened and
removed ones are closed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		a.openAll(ctx, a.cfg.Repositories)

		var mu sync.Mutex
		current := a.cfg.Repositories
		go func() {
			err := config.Watch(ctx, configPath, 200*time.Millisecond, func(cfg *config.Config, err error) {
				if err != nil {
					a.logger.Warn("failed to reload configuration", "err", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				removed, added := diff.Keys(current, cfg.Repositories)
				for _, id := range removed {
					if err := a.coord.CloseRepository(id); err != nil && !errors.Is(err, issuesync.ErrUnknownRepository) {
						a.logger.Warn("failed to close repository", "repo", id, "err", err)
					}
				}
				a.openAll(ctx, added)
				a.coord.SetWorkers(cfg.Workers)
				current = cfg.Repositories
			})
			if err != nil {
				a.logger.Warn("configuration watcher stopped", "err", err)
			}
		}()

		interval := a.cfg.Interval()
		a.logger.Info("watching repositories", "count", len(a.coord.Repositories()), "interval", interval)
		return a.coord.Run(ctx, interval)
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens [owner/name...]",
	Short: "Show stored sync tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer database.Close()

		repos := args
		if len(repos) == 0 {
			known, err := database.ListRepositories()
			if err != nil {
				return err
			}
			for _, r := range known {
				repos = append(repos, r.FullName)
			}
		}
		for _, repo := range repos {
			tokens, err := database.LoadTokens(repo)
			if err != nil {
				return err
			}
			fmt.Println(repo)
			for _, kind := range models.AllKinds {
				token, ok := tokens[kind]
				if !ok {
					fmt.Printf("   %-14s (none)\n", kind)
					continue
				}
				fmt.Printf("   %-14s etag=%s last_check=%s\n", kind, token.ETag, token.LastCheck.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget owner/name",
	Short: "Delete the stored sync tokens of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.DeleteTokens(args[0]); err != nil {
			return err
		}
		fmt.Printf("Forgot sync tokens of %s\n", args[0])
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit owner/name number",
	Short: "Edit fields of an issue",
	Long: `Edit fields of an issue. Each changed field is pushed as a separate
reversible edit; if one fails, the fields already changed are restored.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := args[0]
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid issue number %q: %w", args[1], err)
		}

		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		c, err := a.coord.OpenRepository(ctx, repo)
		if err != nil {
			return err
		}
		issue, ok := c.Issue(number)
		if !ok {
			return fmt.Errorf("issue #%d: %w", number, models.ErrNotFound)
		}

		flags := cmd.Flags()
		var ops []edit.Op
		if flags.Changed("title") {
			title, _ := flags.GetString("title")
			ops = append(ops, edit.SetTitle(issue, title))
		}
		if flags.Changed("state") {
			state, _ := flags.GetString("state")
			if state != string(models.StateOpen) && state != string(models.StateClosed) {
				return fmt.Errorf("invalid state %q, expected open or closed", state)
			}
			ops = append(ops, edit.SetState(issue, models.IssueState(state)))
		}
		if flags.Changed("milestone") {
			milestone, _ := flags.GetInt("milestone")
			ops = append(ops, edit.SetMilestone(issue, milestone))
		}
		if flags.Changed("assignee") {
			assignee, _ := flags.GetString("assignee")
			ops = append(ops, edit.SetAssignee(issue, assignee))
		}
		if flags.Changed("labels") {
			labels, _ := flags.GetStringSlice("labels")
			ops = append(ops, edit.SetLabels(issue, labels))
		}
		if flags.Changed("parents") {
			parents, _ := flags.GetIntSlice("parents")
			ops = append(ops, edit.SetParents(issue, parents))
		}
		if len(ops) == 0 {
			return errors.New("nothing to edit")
		}

		if err := applyEdits(ctx, edit.NewHistory(c, len(ops)), ops); err != nil {
			return err
		}
		updated, _ := c.Issue(number)
		fmt.Printf("#%d %s [%s] labels=%v\n", updated.ID, updated.Title, updated.State, updated.Labels)
		return nil
	},
}

// applyEdits applies ops in order. When one fails, the ones already applied
// are undone, newest first.
func applyEdits(ctx context.Context, h *edit.History, ops []edit.Op) error {
	for i, op := range ops {
		if err := h.Do(ctx, op); err != nil {
			for range i {
				if uerr := h.Undo(ctx); uerr != nil {
					return errors.Join(err, uerr)
				}
			}
			return err
		}
	}
	return nil
}

// app holds the wired components shared by open and watch
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	logOut   io.Writer
	database *db.DB
	coord    *issuesync.Coordinator

	subsMu sync.Mutex
	subs   []func()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, logOut, err := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, logOut: logOut}

	var tokens issuesync.TokenStore = issuesync.NewMemoryStore()
	if cfg.PersistSyncTokens {
		a.database, err = openDatabase(cfg.DatabasePath)
		if err != nil {
			a.close()
			return nil, err
		}
		tokens = a.database
	}

	client := api.NewGitHubClient(cfg.GitHubToken, api.WithLogger(logger))
	if err := client.Login(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.coord = issuesync.New(client, tokens,
		issuesync.WithLogger(logger),
		issuesync.WithPolicy(inherit.Policy{ExcludedPrefixes: cfg.ExcludedLabelPrefixes}),
	)
	a.coord.SetWorkers(cfg.Workers)
	return a, nil
}

// openAll opens every repository, logging the ones that fail
func (a *app) openAll(ctx context.Context, repos []string) {
	for _, repo := range repos {
		owner, name, err := models.ParseRepositoryString(repo)
		if err != nil {
			a.logger.Warn("skipping invalid repository", "repo", repo, "err", err)
			continue
		}
		c, err := a.coord.OpenRepository(ctx, repo)
		if err != nil {
			a.logger.Error("failed to open repository", "repo", repo, "err", err)
			continue
		}
		if a.database != nil {
			if err := a.database.SaveRepository(&models.Repository{Owner: owner, Name: name, FullName: repo}); err != nil {
				a.logger.Warn("failed to record repository", "repo", repo, "err", err)
			}
		}
		a.follow(c)
	}
}

// follow logs every change notification of a cache
func (a *app) follow(c *cache.Cache) {
	changes, cancel := c.Subscribe(16)
	a.subsMu.Lock()
	a.subs = append(a.subs, cancel)
	a.subsMu.Unlock()

	go func() {
		for change := range changes {
			a.logger.Info("cache updated", "repo", change.RepoID, "kind", change.Kind, "revision", change.Revision)
		}
	}()
}

func (a *app) close() {
	a.subsMu.Lock()
	for _, cancel := range a.subs {
		cancel()
	}
	a.subs = nil
	a.subsMu.Unlock()

	if a.coord != nil {
		a.coord.Close()
	}
	if a.database != nil {
		a.database.Close()
	}
	if c, ok := a.logOut.(io.Closer); ok && a.logOut != os.Stderr {
		c.Close()
	}
}

func openDatabase(path string) (*db.DB, error) {
	database, err := db.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

func init() {
	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("state", "", "New state: open or closed")
	editCmd.Flags().Int("milestone", 0, "Milestone number; 0 clears it")
	editCmd.Flags().String("assignee", "", "Assignee login; empty unassigns")
	editCmd.Flags().StringSlice("labels", nil, "Replacement label list")
	editCmd.Flags().IntSlice("parents", nil, "Replacement parent issue numbers")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to configuration file")
	rootCmd.AddCommand(initCmd, addRepoCmd, openCmd, watchCmd, tokensCmd, forgetCmd, editCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
