package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nmea-relay/internal/nmea"
	"nmea-relay/internal/replay"
)

type logSummary struct {
	Records    int
	Malformed  int
	First      time.Time
	Last       time.Time
	Span       time.Duration
	OutOfOrder int
	CodeCounts map[string]int
}

func summarizeLog(records []replay.Record, malformed int) logSummary {
	s := logSummary{Malformed: malformed, CodeCounts: map[string]int{}}
	for i, r := range records {
		s.Records++
		if i == 0 || r.At.Before(s.First) {
			s.First = r.At
		}
		if i == 0 || r.At.After(s.Last) {
			s.Last = r.At
		}
		if i > 0 && r.At.Before(records[i-1].At) {
			s.OutOfOrder++
		}
		code := nmea.Code(r.Sentence)
		if code == "" {
			code = "?"
		}
		s.CodeCounts[code]++
	}
	if s.Records > 0 {
		s.Span = s.Last.Sub(s.First)
	}
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, malformed, err := replay.NewReader(f).ReadAll()
	if err != nil {
		return err
	}

	s := summarizeLog(recs, malformed)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "records: %d\n", s.Records)
	fmt.Fprintf(w, "malformed: %d\n", s.Malformed)
	fmt.Fprintf(w, "out_of_order: %d\n", s.OutOfOrder)
	if s.Records > 0 {
		fmt.Fprintf(w, "first: %s\n", s.First.UTC().Format(replay.TimeLayout))
		fmt.Fprintf(w, "last: %s\n", s.Last.UTC().Format(replay.TimeLayout))
	}
	fmt.Fprintf(w, "span: %s\n", s.Span)

	keys := make([]string, 0, len(s.CodeCounts))
	for k := range s.CodeCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "code_counts:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, s.CodeCounts[k])
	}
	return nil
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <log>",
		Short: "Print record counts and time span of a session log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLogSummary(cmd.OutOrStdout(), args[0])
		},
	}
}
