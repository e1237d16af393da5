package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/pqueue/pkg/pqueue"
)

func newEnqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <name> <birthdate>",
		Short: "Append a person to the queue (birthdate in RFC 3339)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			birthdate, err := time.Parse(time.RFC3339, args[1])
			if err != nil {
				return fmt.Errorf("invalid birthdate: %w", err)
			}
			return a.withQueue(func(q pqueue.Queue[Person]) error {
				if err := q.Enqueue(Person{Name: args[0], Birthdate: birthdate}); err != nil {
					return err
				}
				n, err := q.Count()
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (count %d)\n", args[0], n)
				return nil
			})
		},
	}
}

func newDequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue",
		Short: "Remove the oldest person and print it as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(func(q pqueue.Queue[Person]) error {
				p, ok, err := q.Dequeue()
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return nil
				}
				return printYAML(cmd, p)
			})
		},
	}
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of queued people",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(func(q pqueue.Queue[Person]) error {
				n, err := q.Count()
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(func(q pqueue.Queue[Person]) error {
				stats, err := pqueue.GetStats(q)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "Queue Statistics")
				_, _ = fmt.Fprintln(w, "================")
				_, _ = fmt.Fprintf(w, "Path:\t%s\n", stats.Path)
				_, _ = fmt.Fprintf(w, "Backend:\t%s\n", stats.Backend)
				_, _ = fmt.Fprintf(w, "Records:\t%d\n", stats.Count)
				_, _ = fmt.Fprintf(w, "File Bytes:\t%d\n", stats.FileBytes)
				if stats.Backend == pqueue.BackendAppendLog {
					_, _ = fmt.Fprintf(w, "Used Bytes:\t%d\n", stats.UsedBytes)
					_, _ = fmt.Fprintf(w, "Commits:\t%d\n", stats.Seq)
					if stats.FileBytes > 0 {
						_, _ = fmt.Fprintf(w, "Utilization:\t%.1f%%\n", float64(stats.UsedBytes)/float64(stats.FileBytes)*100)
					}
				}
				return w.Flush()
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pqueue version %s\n", pqueue.Version)
			return err
		},
	}
}

func printYAML(cmd *cobra.Command, v interface{}) error {
	s, err := yamlString(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), s)
	return err
}

func yamlString(v interface{}) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
