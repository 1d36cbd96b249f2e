package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/axolop/axolop-crm/internal/auth"
	"github.com/axolop/axolop-crm/internal/shared"
)

// Options wires the command tree to its collaborators.
type Options struct {
	Out     io.Writer
	NewJobs func(redisAddr string) *JobsCLI
	Getenv  func(string) string
}

func (o Options) withDefaults() Options {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.NewJobs == nil {
		o.NewJobs = NewJobsCLI
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	return o
}

// NewRootCommand builds the axolopctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	opts = opts.withDefaults()
	redisAddr := opts.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	root := &cobra.Command{
		Use:           "axolopctl",
		Short:         "Operate the Axolop CRM access service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Out)
	root.PersistentFlags().StringVar(&redisAddr, "redis", redisAddr, "Redis address used by the job queue")

	jobsFor := func() *JobsCLI { return opts.NewJobs(redisAddr) }
	root.AddCommand(newJobsCommand(jobsFor), newAccessCommand(jobsFor), newTokenCommand(opts))
	return root
}

func newJobsCommand(jobsFor func() *JobsCLI) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a scheduled job now (billing:sweep, webhook:cleanup)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := jobsFor()
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := jobsFor()
			defer c.Close()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := jobsFor()
			defer c.Close()
			tasks, err := c.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(tasks))
			for _, t := range tasks {
				out = append(out, map[string]any{"id": t.ID, "type": t.Type, "next_process_at": t.NextProcessAt})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")

	cmd.AddCommand(trigger, stats, scheduled)
	return cmd
}

func newAccessCommand(jobsFor func() *JobsCLI) *cobra.Command {
	cmd := &cobra.Command{Use: "access", Short: "Manage cached agency access"}

	var reason string
	refresh := &cobra.Command{
		Use:   "refresh <agency-id>",
		Short: "Invalidate cached memberships for an agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agencyID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid agency id %q: %w", args[0], err)
			}
			c := jobsFor()
			defer c.Close()
			info, err := NewAccessOpsCLI(c).TriggerRefresh(cmd.Context(), agencyID, reason)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "agency_id": agencyID.String()})
		},
	}
	refresh.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the refresh")

	cmd.AddCommand(refresh)
	return cmd
}

func newTokenCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Issue bearer tokens for local development"}

	var (
		userID string
		email  string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with AUTH_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := opts.Getenv("AUTH_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is not set")
			}
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", userID, err)
			}
			issuer := opts.Getenv("AUTH_JWT_ISSUER")
			if issuer == "" {
				issuer = "axolop"
			}
			authn := auth.NewAuthenticator(secret, issuer, opts.Getenv("AUTH_JWT_AUDIENCE"))
			token, expires, err := authn.Issue(shared.Identity{UserID: id, Email: email}, ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"token": token, "expires_at": expires})
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id (uuid)")
	issue.Flags().StringVar(&email, "email", "", "user email")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
