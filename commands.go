package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harrisonrobin/mirrorsync/pkg/auth"
	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
	"github.com/harrisonrobin/mirrorsync/pkg/syncer"
	"github.com/harrisonrobin/mirrorsync/pkg/taskwarrior"
)

var (
	configPath string
	ownerID    string
)

var rootCmd = &cobra.Command{
	Use:   "mirrorsync",
	Short: "Two-way sync of local tasks and events with Google Tasks and Calendar",
	Long: `mirrorsync keeps a local task list and calendar in step with a linked Google
account. Local edits to the mirror containers are pushed as they happen; remote
changes are pulled incrementally with "mirrorsync sync".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(configPath)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a Google account to the owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, err := current.oauthConfig()
		if err != nil {
			return err
		}
		tok, err := auth.LinkAccount(cmd.Context(), oc, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		link := &model.AccountLink{
			OwnerID:      ownerID,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		}
		if err := current.db.SaveLink(cmd.Context(), link); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked Google account for %s\n", ownerID)
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Forget the owner's Google credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.db.DeleteLink(cmd.Context(), ownerID)
	},
}

var mapCmd = &cobra.Command{
	Use:   "map <task|event> <remote title>",
	Short: "Mirror into the Google task list or calendar with this title",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseKind(args[0])
		if err != nil {
			return err
		}
		_, remote, err := current.sync()
		if err != nil {
			return err
		}
		title := strings.Join(args[1:], " ")
		id, err := remote.ResolveContainer(cmd.Context(), ownerID, kind, title)
		if err != nil {
			return err
		}
		if err := current.db.SetRemoteContainer(cmd.Context(), ownerID, kind, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s mirror now targets '%s' (%s)\n", kind, title, id)
		return nil
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror <container>",
	Short: "Make a local container the mirror for its kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ownedContainer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return current.db.SetMirrorContainer(cmd.Context(), c.ID)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [task|event]",
	Short: "Pull remote changes into the mirror containers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := current.sync()
		if err != nil {
			return err
		}
		results := map[model.Kind]syncer.Result{}
		if len(args) == 1 {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return err
			}
			res, err := engine.SyncAccount(cmd.Context(), ownerID, kind)
			if err != nil {
				return err
			}
			results[kind] = res
		} else if results, err = engine.SyncAll(cmd.Context(), ownerID); err != nil {
			return err
		}
		printResults(cmd.OutOrStdout(), results)
		return nil
	},
}

func printResults(out io.Writer, results map[model.Kind]syncer.Result) {
	kinds := make([]string, 0, len(results))
	for k := range results {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		r := results[model.Kind(k)]
		fmt.Fprintf(out, "%s: %d changed (%d created, %d updated, %d deleted, %d skipped)\n",
			k, r.ItemsChanged, r.Created, r.Updated, r.Deleted, r.Skipped)
	}
}

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage local task lists and calendars",
}

var containerMirror bool

var containerAddCmd = &cobra.Command{
	Use:   "add <task|event> <name>",
	Short: "Create a container",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseKind(args[0])
		if err != nil {
			return err
		}
		c := &model.Container{
			ID:      uuid.NewString(),
			OwnerID: ownerID,
			Kind:    kind,
			Name:    strings.Join(args[1:], " "),
		}
		if err := current.db.CreateContainer(cmd.Context(), c); err != nil {
			return err
		}
		if containerMirror {
			if err := current.db.SetMirrorContainer(cmd.Context(), c.ID); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), c.ID)
		return nil
	},
}

var containerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := current.db.ListContainers(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tNAME\tMIRROR")
		for _, c := range cs {
			mirror := ""
			if c.IsMirror {
				mirror = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Kind, c.Name, mirror)
		}
		return w.Flush()
	},
}

// ownedContainer finds a container of the owner by id or name.
func ownedContainer(ctx context.Context, ref string) (*model.Container, error) {
	c, err := current.db.GetContainer(ctx, ref)
	if err == nil {
		if c.OwnerID != ownerID {
			return nil, fmt.Errorf("container %s belongs to another owner", ref)
		}
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	cs, err := current.db.ListContainers(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var found *model.Container
	for _, c := range cs {
		if c.Name != ref {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("container name '%s' is ambiguous, use its id", ref)
		}
		found = c
	}
	if found == nil {
		return nil, fmt.Errorf("container '%s': %w", ref, store.ErrNotFound)
	}
	return found, nil
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Create and edit local items",
}

var itemFlags struct {
	title    string
	notes    string
	due      string
	done     bool
	start    string
	end      string
	location string
}

func addPayloadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&itemFlags.notes, "notes", "", "free-form notes")
	f.StringVar(&itemFlags.due, "due", "", "task due date (YYYY-MM-DD or RFC3339)")
	f.BoolVar(&itemFlags.done, "done", false, "mark the task completed")
	f.StringVar(&itemFlags.start, "start", "", "event start (YYYY-MM-DD for all-day, or RFC3339)")
	f.StringVar(&itemFlags.end, "end", "", "event end; defaults to one day or one hour after start")
	f.StringVar(&itemFlags.location, "location", "", "event location")
}

// applyFlags copies the flags that were set onto p.
func applyFlags(cmd *cobra.Command, p *model.Payload) error {
	f := cmd.Flags()
	if f.Changed("title") {
		p.Title = itemFlags.title
	}
	if f.Changed("notes") {
		p.Notes = itemFlags.notes
	}
	if f.Changed("due") {
		if itemFlags.due == "" {
			p.Task.Due = nil
		} else {
			due, err := parseInstant(itemFlags.due)
			if err != nil {
				return err
			}
			p.Task.Due = &due
		}
	}
	if f.Changed("done") {
		p.Task.Completed = itemFlags.done
		p.Task.CompletedAt = nil
		if itemFlags.done {
			now := time.Now().UTC()
			p.Task.CompletedAt = &now
		}
	}
	if f.Changed("start") || f.Changed("end") {
		timing, err := parseTiming(itemFlags.start, itemFlags.end)
		if err != nil {
			return err
		}
		p.Event.Timing = timing
	}
	if f.Changed("location") {
		p.Event.Location = itemFlags.location
	}
	return nil
}

func parseInstant(s string) (time.Time, error) {
	if d, err := model.ParseDate(s); err == nil {
		return d.In(time.UTC), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

// parseTiming builds an all-day timing from dates and a timed one from
// RFC3339 instants. An empty start unschedules the event.
func parseTiming(start, end string) (model.Timing, error) {
	if start == "" {
		if end != "" {
			return nil, fmt.Errorf("--end needs --start")
		}
		return nil, nil
	}
	if d, err := model.ParseDate(start); err == nil {
		e := d.AddDays(1)
		if end != "" {
			if e, err = model.ParseDate(end); err != nil {
				return nil, fmt.Errorf("all-day event end must be a date: %w", err)
			}
		}
		if !e.In(time.UTC).After(d.In(time.UTC)) {
			return nil, fmt.Errorf("event end %s is not after start %s", e, d)
		}
		return model.AllDay{Start: d, End: e}, nil
	}

	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start %q: want YYYY-MM-DD or RFC3339", start)
	}
	e := s.Add(time.Hour)
	if end != "" {
		if e, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, fmt.Errorf("invalid end %q: %w", end, err)
		}
	}
	if e.Before(s) {
		return nil, fmt.Errorf("event end %s is before start %s", e, s)
	}
	return model.Timed{Start: s, End: e}, nil
}

var itemAddCmd = &cobra.Command{
	Use:   "add <container> <title>",
	Short: "Create an item",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ownedContainer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		p := model.Payload{Title: strings.Join(args[1:], " ")}
		if err := applyFlags(cmd, &p); err != nil {
			return err
		}
		item, err := current.items().Create(cmd.Context(), c.ID, p)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), item.ID)
		return nil
	},
}

var itemEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change an item's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := current.items().Update(cmd.Context(), args[0], func(p *model.Payload) error {
			return applyFlags(cmd, p)
		})
		return err
	},
}

var itemMoveCmd = &cobra.Command{
	Use:   "move <id> <container>",
	Short: "Move an item to another container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ownedContainer(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		_, err = current.items().Move(cmd.Context(), args[0], c.ID)
		return err
	},
}

var itemRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.items().Delete(cmd.Context(), args[0])
	},
}

var itemLsCmd = &cobra.Command{
	Use:   "ls <container>",
	Short: "List the items of a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ownedContainer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		list, err := current.items().List(cmd.Context(), c.ID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tWHEN\tREMOTE")
		for _, item := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.ID, item.Title, when(item), item.RemoteID)
		}
		return w.Flush()
	},
}

func when(item *model.Item) string {
	if item.Kind == model.KindTask {
		s := ""
		if item.Task.Due != nil {
			s = "due " + model.DateOf(item.Task.Due.UTC()).String()
		}
		if item.Task.Completed {
			s = strings.TrimSpace(s + " done")
		}
		return s
	}
	switch t := item.Event.Timing.(type) {
	case model.Timed:
		return t.Start.Local().Format("2006-01-02 15:04") + " - " + t.End.Local().Format("15:04")
	case model.AllDay:
		return t.Start.String() + " (all day)"
	}
	return "unscheduled"
}

var importFilter []string

var importCmd = &cobra.Command{
	Use:   "import <container> [file|-]",
	Short: "Import Taskwarrior tasks into a task container",
	Long: `Reads a Taskwarrior JSON export from file, stdin ("-"), or by running
"task export" with --filter. Deleted tasks are skipped.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ownedContainer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if c.Kind != model.KindTask {
			return fmt.Errorf("container %s holds %ss, not tasks", c.Name, c.Kind)
		}

		var tasks []taskwarrior.Task
		switch {
		case len(args) == 1:
			tasks, err = taskwarrior.Export(cmd.Context(), importFilter)
		case args[1] == "-":
			tasks, err = taskwarrior.Decode(cmd.InOrStdin())
		default:
			var f *os.File
			if f, err = os.Open(args[1]); err != nil {
				return err
			}
			defer f.Close()
			tasks, err = taskwarrior.Decode(f)
		}
		if err != nil {
			return err
		}

		svc := current.items()
		imported := 0
		for _, t := range tasks {
			p, ok := taskwarrior.ToPayload(t)
			if !ok {
				continue
			}
			if _, err := svc.Create(cmd.Context(), c.ID, p); err != nil {
				return fmt.Errorf("failed to import task %s: %w", t.UUID, err)
			}
			imported++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d tasks into %s\n", imported, len(tasks), c.Name)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/mirrorsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", defaultOwner(), "local account that owns the items")

	containerAddCmd.Flags().BoolVar(&containerMirror, "mirror", false, "make it the mirror container for its kind")
	containerCmd.AddCommand(containerAddCmd, containerLsCmd)

	addPayloadFlags(itemAddCmd)
	addPayloadFlags(itemEditCmd)
	itemEditCmd.Flags().StringVar(&itemFlags.title, "title", "", "new title")
	itemCmd.AddCommand(itemAddCmd, itemEditCmd, itemMoveCmd, itemRmCmd, itemLsCmd)

	importCmd.Flags().StringSliceVar(&importFilter, "filter", []string{"status:pending"}, "taskwarrior filter used with task export")

	rootCmd.AddCommand(linkCmd, unlinkCmd, mapCmd, mirrorCmd, syncCmd, containerCmd, itemCmd, importCmd)
}

func defaultOwner() string {
	if o := os.Getenv("MIRRORSYNC_OWNER"); o != "" {
		return o
	}
	return "default"
}
