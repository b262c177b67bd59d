package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ticketsync/internal/workflow"
)

// TransitionsOptions holds flags for the transitions command.
type TransitionsOptions struct {
	*RootOptions
	From string
}

// TransitionRow lists the statuses reachable from one status.
type TransitionRow struct {
	From     workflow.Status   `json:"from"`
	To       []workflow.Status `json:"to"`
	Terminal bool              `json:"terminal"`
}

// TransitionTable is the workflow graph in board column order.
type TransitionTable []TransitionRow

// RenderText prints one "FROM -> A, B" line per status.
func (t TransitionTable) RenderText(w io.Writer) error {
	for _, row := range t {
		targets := "(terminal)"
		if !row.Terminal {
			names := make([]string, len(row.To))
			for i, s := range row.To {
				names[i] = string(s)
			}
			targets = strings.Join(names, ", ")
		}
		if _, err := fmt.Fprintf(w, "%-16s -> %s\n", row.From, targets); err != nil {
			return err
		}
	}
	return nil
}

// NewTransitionsCommand creates the transitions command.
func NewTransitionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransitionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transitions",
		Short: "Print the ticket workflow graph",
		Long: `Print which statuses a ticket may move to from each status.

Example:
  ticketsync transitions
  ticketsync transitions --from in-progress --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransitions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "only show transitions out of this status")

	return cmd
}

func runTransitions(opts *TransitionsOptions, cmd *cobra.Command) error {
	statuses := workflow.AllStatuses()
	if opts.From != "" {
		from, err := workflow.ParseStatus(opts.From)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --from", err)
		}
		statuses = []workflow.Status{from}
	}

	table := make(TransitionTable, 0, len(statuses))
	for _, s := range statuses {
		table = append(table, TransitionRow{
			From:     s,
			To:       workflow.Transitions(s),
			Terminal: workflow.IsTerminal(s),
		})
	}
	return opts.formatter(cmd).Success(table)
}
