// Command sessioncheck validates a review session file and prints what it
// holds, without touching any store.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"fkreview/fkreview"
	"fkreview/session"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
)

// report is the -json output.
type report struct {
	Path        string          `json:"path"`
	Summary     session.Summary `json:"summary"`
	NeedsReview []string        `json:"needsReview"`
	Problems    []string        `json:"problems"`
}

func main() {
	sessionFlag := flag.String("session", "", "Session file to check (plain or gzip JSON)")
	jsonFlag := flag.Bool("json", false, "Print the report as JSON")
	flag.Parse()
	log.SetFlags(0)

	if *sessionFlag == "" {
		log.Fatal("sessioncheck: -session is required")
	}
	r, err := check(*sessionFlag)
	if err != nil {
		log.Fatal(err)
	}
	if *jsonFlag {
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(r, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(out))
	} else {
		printReport(os.Stdout, r)
	}
	if len(r.Problems) > 0 {
		os.Exit(1)
	}
}

// Purpose: Load a session and collect its summary and problems.
// Key aspects: Review state uses the default phase rules and no stored
// marks, so it shows what a fresh review would visit.
// Upstream: main.
// Downstream: session.Load, fkreview.FilterInFksThatNeedReview.
func check(path string) (report, error) {
	sess, err := session.Load(path)
	if err != nil {
		return report{}, err
	}
	associated := fkreview.GetAssociatedDetectionsWithFks(sess.Event, sess.SignalDetections)
	rules := fkreview.Rules{PhasesNeedingReview: fkreview.DefaultPhasesNeedingReview}
	r := report{
		Path:        path,
		Summary:     sess.Summarize(),
		NeedsReview: []string{},
		Problems:    sess.Problems(),
	}
	for _, sd := range fkreview.FilterInFksThatNeedReview(sess.SignalDetections, associated, rules) {
		r.NeedsReview = append(r.NeedsReview, sd.ID)
	}
	if r.Problems == nil {
		r.Problems = []string{}
	}
	return r, nil
}

func printReport(w io.Writer, r report) {
	s := r.Summary
	fmt.Fprintf(w, "Session: %s\n", r.Path)
	fmt.Fprintf(w, "Stations: %d, raw channels: %d, filter lists: %d\n", s.Stations, s.RawChannels, s.FilterLists)
	fmt.Fprintf(w, "Channel rows: %d, segments: %d, inline samples: %s, claim checks: %d\n",
		s.ChannelRows, s.Segments, humanize.Comma(int64(s.InlineSamples)), s.ClaimChecks)
	fmt.Fprintf(w, "Signal detections: %d (%d associated), FKs needing review: %d\n",
		s.SignalDetections, s.Associated, len(r.NeedsReview))
	for _, id := range r.NeedsReview {
		fmt.Fprintf(w, "  review %s\n", id)
	}
	if len(r.Problems) == 0 {
		fmt.Fprintln(w, "OK")
		return
	}
	fmt.Fprintf(w, "%d problem(s):\n", len(r.Problems))
	for _, p := range r.Problems {
		fmt.Fprintf(w, "  %s\n", p)
	}
}
