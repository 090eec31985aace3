package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/thumbforge/internal/projectapi"
	"github.com/kalambet/thumbforge/internal/projects"
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project"},
	Short:   "Manage thumbnail projects",
}

type projectView struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	IsPublic  bool      `json:"isPublic" yaml:"public"`
	Favorite  bool      `json:"favorite" yaml:"favorite"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updated_at"`
}

func projectViews(ps []projects.Project) []projectView {
	views := make([]projectView, len(ps))
	for i, p := range ps {
		views[i] = projectView{ID: p.ID, Name: p.Name, IsPublic: p.IsPublic, Favorite: p.Favorite, UpdatedAt: p.UpdatedAt}
	}
	return views
}

func printProjects(w io.Writer, ps []projects.Project) error {
	views := projectViews(ps)
	return render(w, views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No projects found.")
			return
		}
		for _, v := range views {
			star := " "
			if v.Favorite {
				star = colorize(colorYellow, "★")
			}
			visibility := "private"
			if v.IsPublic {
				visibility = "public"
			}
			fmt.Fprintf(w, "%s %s  %-7s  %s\n", star, colorize(colorCyan, v.ID), visibility, v.Name)
		}
	})
}

// startProjects starts the orchestrator and waits for the live collection.
// If the live feed fails or does not deliver within waitTimeout, a cached
// collection is accepted with a warning.
func startProjects(ctx context.Context, o *projects.Orchestrator) ([]projects.Project, error) {
	ready := make(chan struct{}, 1)
	o.OnChange(func([]projects.Project) {
		if d := o.Diagnostics(); !d.Loading && (!d.CacheHit || d.Err != nil) {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	o.Start()

	ctx, cancel := withWaitTimeout(ctx)
	defer cancel()

	select {
	case <-ready:
		return cachedProjects(o, o.Diagnostics()), nil
	case <-ctx.Done():
	}

	d := o.Diagnostics()
	if !d.Loading {
		return cachedProjects(o, d), nil
	}
	if d.Err != nil {
		return nil, fmt.Errorf("loading projects: %w", d.Err)
	}
	return nil, fmt.Errorf("loading projects: %w", ctx.Err())
}

func cachedProjects(o *projects.Orchestrator, d projects.Diagnostics) []projects.Project {
	if d.CacheHit {
		age := "fresh"
		if d.IsStale {
			age = "stale"
		}
		printWarning("live feed unavailable, showing %s cached projects", age)
	}
	return o.Projects()
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		watch, _ := cmd.Flags().GetBool("watch")
		o := a.orchestrator()
		if !watch {
			ps, err := startProjects(cmd.Context(), o)
			if err != nil {
				return err
			}
			return printProjects(cmd.OutOrStdout(), ps)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		updates := make(chan []projects.Project, 16)
		o.OnChange(func(ps []projects.Project) {
			if o.Diagnostics().Loading {
				return
			}
			select {
			case updates <- ps:
			default:
			}
		})
		o.Start()

		for {
			select {
			case <-ctx.Done():
				return nil
			case ps := <-updates:
				if outputFormat == "table" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colorize(colorBold, "--"), time.Now().Format(time.TimeOnly))
				}
				if err := printProjects(cmd.OutOrStdout(), ps); err != nil {
					return err
				}
			}
		}
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		public, _ := cmd.Flags().GetBool("public")
		p, err := a.orchestrator().CreateNewProject(cmd.Context(), args[0], public)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), projectViews([]projects.Project{*p})[0], func(io.Writer) {
			printSuccess("Created project %s (%s)", p.Name, p.ID)
		})
	},
}

var projectsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[1]
		return updateProject(cmd, args[0], projectapi.Patch{Name: &name})
	},
}

var projectsPrivacyCmd = &cobra.Command{
	Use:       "privacy <id> public|private",
	Short:     "Change the visibility of a project",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"public", "private"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var public bool
		switch args[1] {
		case "public":
			public = true
		case "private":
		default:
			return fmt.Errorf("visibility must be public or private, got %q", args[1])
		}
		return updateProject(cmd, args[0], projectapi.Patch{IsPublic: &public})
	},
}

func updateProject(cmd *cobra.Command, id string, patch projectapi.Patch) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orchestrator().UpdateProject(cmd.Context(), id, patch); err != nil {
		return err
	}
	printSuccess("Updated project %s", id)
	return nil
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Started so a deleted favorite is dropped from the stored set.
		o := a.orchestrator()
		if _, err := startProjects(cmd.Context(), o); err != nil {
			printWarning("%v", err)
		}
		if err := o.RemoveProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Deleted project %s", args[0])
		return nil
	},
}

var projectsFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Toggle the local favorite flag of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		o := a.orchestrator()
		if _, err := startProjects(cmd.Context(), o); err != nil {
			printWarning("%v", err)
		}
		if o.ToggleFavorite(args[0]) {
			printSuccess("Starred project %s", args[0])
		} else {
			printSuccess("Unstarred project %s", args[0])
		}
		return nil
	},
}

func init() {
	projectsListCmd.Flags().Bool("watch", false, "keep running and print the collection on every change")
	projectsCreateCmd.Flags().Bool("public", false, "make the project public")
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd, projectsRenameCmd,
		projectsPrivacyCmd, projectsDeleteCmd, projectsFavoriteCmd)
}
