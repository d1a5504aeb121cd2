package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusops/admin/internal/core"
)

type nextIDOptions struct {
	pattern bool
	last    bool
	prefix  string
	pad     int
}

func newNextIDCmd(open OpenFunc) *cobra.Command {
	opts := &nextIDOptions{}

	cmd := &cobra.Command{
		Use:   "next-id",
		Short: "Print the next student id",
		Long: `next-id prints the id the next student would receive.

By default the numeric strategy is used: the id sequence's next value, or
MAX(stuid)+1 when the sequence cannot be read. --pattern instead increments
the trailing number of the greatest string id, keeping its prefix and width,
and falls back to --prefix and --pad when no id contains a digit.

Nothing is reserved: two callers may be told the same id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.last && opts.pattern {
				return fmt.Errorf("--last applies to numeric ids only")
			}

			svc, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			switch {
			case opts.pattern:
				next, err := svc.NextPatternID(cmd.Context(), opts.prefix, max(opts.pad, 1))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, next)
			case opts.last:
				last, err := svc.LastNumericID(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, last)
			default:
				next, err := svc.NextNumericID(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, next)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.pattern, "pattern", false, "use the string id strategy (e.g. STU_ID_042)")
	cmd.Flags().BoolVar(&opts.last, "last", false, "print the current greatest numeric id instead")
	cmd.Flags().StringVar(&opts.prefix, "prefix", core.DefaultIDPrefix, "prefix when no string id exists yet")
	cmd.Flags().IntVar(&opts.pad, "pad", core.DefaultIDPad, "zero-padding width when no string id exists yet")
	return cmd
}
