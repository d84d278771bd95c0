package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Maintenance is the set of operations the CLI drives.
type Maintenance interface {
	SweepSwaps(ctx context.Context) ([]models.SwapRequest, error)
	PruneGroups(ctx context.Context) (int64, error)
	IssueToken(ctx context.Context, userID string) (string, time.Time, error)
}

// Connector opens the backing services. The returned func releases them.
type Connector func(ctx context.Context) (Maintenance, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string
	Timeout time.Duration
	connect Connector
}

// NewRootCommand creates the topicctl root command.
func NewRootCommand(connect Connector) *cobra.Command {
	opts := &RootOptions{connect: connect}

	cmd := &cobra.Command{
		Use:   "topicctl",
		Short: "Maintenance tasks for the topic registry",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", time.Minute, "deadline for the whole command")

	cmd.AddCommand(NewSwapsCommand(opts))
	cmd.AddCommand(NewGroupsCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// run opens the services, applies the timeout and hands them to fn.
func (o *RootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, svc Maintenance) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	svc, release, err := o.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer release()

	return fn(ctx, svc)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
