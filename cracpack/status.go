package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jveski/cracpack/internal/status"
	"github.com/jveski/cracpack/internal/testresources"
)

func statusCmd(c *cli.Context) error {
	settings, err := testresources.ReadServerSettings(c.String("settings"))
	if err != nil {
		return err
	}
	client := status.NewClient(settings)

	entries, err := client.List(c.Context)
	if err != nil {
		return err
	}
	printStatus(entries, time.Now(), os.Stdout)
	if !c.Bool("follow") {
		return nil
	}

	for {
		pending := firstPending(entries)
		if pending == nil {
			return nil
		}

		next, err := client.Wait(c.Context, pending.Snapshot.Target, pending.Version)
		if err != nil {
			return err
		}
		if next == nil {
			continue // poll window passed
		}

		if entries, err = client.List(c.Context); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
		printStatus(entries, time.Now(), os.Stdout)
	}
}

func firstPending(entries []*status.Entry) *status.Entry {
	for _, e := range entries {
		if !e.Snapshot.Done {
			return e
		}
	}
	return nil
}

func printStatus(entries []*status.Entry, now time.Time, w io.Writer) {
	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "IMAGE\tSTATE\tDONE\tUPDATED\tCONTAINER\tERROR\n")
	for _, e := range entries {
		s := e.Snapshot

		container := s.Container
		if len(container) > 12 {
			container = container[:12]
		}
		updated := ""
		if !s.Updated.IsZero() {
			updated = durationToString(now.Sub(s.Updated))
		}
		reason := ""
		if s.Error != "" {
			reason = fmt.Sprintf("%q", s.Error)
		}

		fmt.Fprintf(tr, "%s\t%s\t%t\t%s\t%s\t%s\n", s.Target, s.State, s.Done, updated, container, reason)
	}
	tr.Flush()
}

func durationToString(d time.Duration) string {
	hr := d.Hours()
	if hr > 24 {
		return fmt.Sprintf("%dd", int(hr/24))
	}
	if hr > 1 {
		return fmt.Sprintf("%dh", int(hr))
	}

	min := d.Minutes()
	if min > 1 {
		return fmt.Sprintf("%dm", int(min))
	}

	return fmt.Sprintf("%ds", int(d.Seconds()))
}
