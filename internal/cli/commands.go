package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

type sweepOutput struct {
	Rejected []string `json:"rejected"`
}

type pruneOutput struct {
	Removed int64 `json:"removed"`
}

type tokenOutput struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewSwapsCommand groups swap request maintenance.
func NewSwapsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swaps",
		Short: "Swap request maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Reject pending swap requests whose groups no longer hold the paired topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, svc Maintenance) error {
				rejected, err := svc.SweepSwaps(ctx)
				if err != nil {
					return err
				}
				out := sweepOutput{Rejected: make([]string, 0, len(rejected))}
				for _, req := range rejected {
					out.Rejected = append(out.Rejected, req.ID)
				}
				return write(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) {
					fmt.Fprintf(w, "rejected %d stale swap request(s)\n", len(out.Rejected))
					for _, id := range out.Rejected {
						fmt.Fprintf(w, "  %s\n", id)
					}
				})
			})
		},
	})
	return cmd
}

// NewGroupsCommand groups student group maintenance.
func NewGroupsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Student group maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete groups that have no members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, svc Maintenance) error {
				removed, err := svc.PruneGroups(ctx)
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), opts.Format, pruneOutput{Removed: removed}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d empty group(s)\n", removed)
				})
			})
		},
	})
	return cmd
}

// NewTokenCommand mints access tokens for existing users.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Access token utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "issue <user-id>",
		Short: "Sign an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, svc Maintenance) error {
				token, expiresAt, err := svc.IssueToken(ctx, args[0])
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), opts.Format, tokenOutput{Token: token, ExpiresAt: expiresAt}, func(w io.Writer) {
					fmt.Fprintln(w, token)
				})
			})
		},
	})
	return cmd
}

func write(w io.Writer, format string, v interface{}, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
