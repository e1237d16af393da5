package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/pqueue/pkg/pqueue"
)

// demoPerson is the record used by the demo scenario.
func demoPerson() Person {
	return Person{
		Name:      "Aditya Kresna",
		Birthdate: time.Date(1984, 2, 10, 7, 15, 0, 0, time.FixedZone("", 9*3600)),
	}
}

func newDemoCmd(a *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the Person round-trip and queue scenario against every backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			opts, err := a.options()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := demoCodec(out, dir, opts.Codec); err != nil {
				return err
			}

			for _, backend := range pqueue.Backends {
				opener, err := pqueue.OpenerFor(backend, opts)
				if err != nil {
					return err
				}
				path := filepath.Join(dir, "person."+string(backend))
				if err := demoQueue(out, opener, path); err != nil {
					return fmt.Errorf("%s: %w", backend, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory for the demo files")
	return cmd
}

// demoCodec writes an encoded Person to disk, reads it back, and prints the
// decoded value as YAML.
func demoCodec(out io.Writer, dir string, c pqueue.Codec[Person]) error {
	_, _ = fmt.Fprintln(out, `"Person" struct serde...`)

	data, err := c.Encode(demoPerson())
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "person.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	defer func() { _ = os.Remove(path) }()

	loaded, err := os.ReadFile(path) //nolint:gosec // G304: path is built from the --dir flag
	if err != nil {
		return err
	}
	p, err := c.Decode(loaded)
	if err != nil {
		return err
	}

	y, err := yamlString(p)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, y)
	return nil
}

// demoQueue opens the queue at path, adds the demo person twice, and
// removes the oldest entry, printing the count after each step.
func demoQueue(out io.Writer, open pqueue.Opener[Person], path string) (err error) {
	q, err := open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := q.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	printCount := func() error {
		n, err := q.Count()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "=> Current PQ count is %d\n", n)
		return nil
	}

	_, _ = fmt.Fprintf(out, "\"Person\" persistent queue with filename: %s\n", q.Name())
	if err := printCount(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, "=> Adding 2 same person to queue...")
	p := demoPerson()
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(p); err != nil {
			return err
		}
	}
	if err := printCount(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, "=> Removing 1 oldest person queue...")
	if _, _, err := q.Dequeue(); err != nil {
		return err
	}
	return printCount()
}
