package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mquery/internal/platform/config"
	dsdom "mquery/internal/services/datasets/domain"
	indexhttp "mquery/internal/services/api/index/http"
	queryhttp "mquery/internal/services/api/query/http"
	jobsdom "mquery/internal/services/jobs/domain"

	"github.com/spf13/cobra"
)

type options struct {
	server  string
	timeout time.Duration
	out     io.Writer
}

func (o *options) client() *client { return newClient(o.server, o.timeout) }

func newRootCmd() *cobra.Command {
	cli := config.New().Prefix("MQUERY_")
	o := &options{out: os.Stdout}

	root := &cobra.Command{
		Use:           "mquery-cli",
		Short:         "Client for the mquery API",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			o.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVar(&o.server, "server", cli.MayString("SERVER", "http://localhost:5000"), "mquery-api base url (MQUERY_SERVER)")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", cli.MayDuration("TIMEOUT", 5*time.Minute), "per request timeout")

	root.AddCommand(
		indexCmd(o),
		datasetsCmd(o),
		taintCmd(o),
		queryCmd(o),
		parseCmd(o),
		statusCmd(o),
		cancelCmd(o),
	)
	return root
}

func indexCmd(o *options) *cobra.Command {
	var (
		schemes   []string
		taints    []string
		recursive bool
	)
	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Index a directory on the server host into a new dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			in := indexhttp.IndexRequest{Path: dir, Schemes: schemes, Recursive: &recursive, Taints: taints}
			var res dsdom.IngestResult
			if err := o.client().do(cmd.Context(), "POST", "/api/index", in, &res); err != nil {
				return err
			}
			fmt.Fprintf(o.out, "dataset %s: %d files, schemes %v, taints %v\n",
				res.Dataset.ID, res.Dataset.FileCount, res.Dataset.Schemes, res.Dataset.Taints)
			for _, s := range res.Skipped {
				fmt.Fprintf(o.out, "  skipped %s: %s\n", s.Path, s.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&schemes, "schemes", []string{"gram3"}, "index schemes: gram3, text4, hash4, wide8")
	cmd.Flags().StringSliceVar(&taints, "taint", nil, "taint labels to attach to the dataset")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "descend into subdirectories")
	return cmd
}

func datasetsCmd(o *options) *cobra.Command {
	var taint string
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets, optionally only those carrying a taint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.client()
			if cmd.Flags().Changed("taint") {
				label := taint
				if label == "" {
					label = "-"
				}
				var res indexhttp.TaintDatasetsResponse
				if err := c.do(cmd.Context(), "GET", "/api/taints/"+esc(label)+"/datasets", nil, &res); err != nil {
					return err
				}
				for _, id := range res.Datasets {
					fmt.Fprintln(o.out, id)
				}
				return nil
			}
			var res indexhttp.DatasetsResponse
			if err := c.do(cmd.Context(), "GET", "/api/backend/datasets", nil, &res); err != nil {
				return err
			}
			ids := make([]string, 0, len(res.Datasets))
			for id := range res.Datasets {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				v := res.Datasets[id]
				fmt.Fprintf(o.out, "%s\t%d files\t%v\t[%s]\t%s\n", id, v.FileCount, v.Schemes, strings.Join(v.Taints, ","), v.Root)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taint, "taint", "", "only datasets with this taint; empty lists untainted datasets")
	return cmd
}

func taintCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taint",
		Short: "Attach or detach dataset taints",
	}
	add := &cobra.Command{
		Use:   "add <dataset> <taint>",
		Short: "Attach a taint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v indexhttp.DatasetView
			err := o.client().do(cmd.Context(), "POST", "/api/datasets/"+esc(args[0])+"/taints",
				indexhttp.TaintRequest{Taint: args[1]}, &v)
			if err != nil {
				return err
			}
			fmt.Fprintf(o.out, "%s: [%s]\n", args[0], strings.Join(v.Taints, ","))
			return nil
		},
	}
	rm := &cobra.Command{
		Use:     "rm <dataset> <taint>",
		Aliases: []string{"remove"},
		Short:   "Detach a taint",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v indexhttp.DatasetView
			err := o.client().do(cmd.Context(), "DELETE", "/api/datasets/"+esc(args[0])+"/taints/"+esc(args[1]), nil, &v)
			if err != nil {
				return err
			}
			fmt.Fprintf(o.out, "%s: [%s]\n", args[0], strings.Join(v.Taints, ","))
			return nil
		},
	}
	cmd.AddCommand(add, rm)
	return cmd
}

func readRule(arg string) (string, error) {
	if arg == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(arg)
	return string(b), err
}

func queryCmd(o *options) *cobra.Command {
	var (
		taint    string
		priority string
		wait     bool
		poll     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query <rule-file|->",
		Short: "Submit a rule as a background job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readRule(args[0])
			if err != nil {
				return err
			}
			in := queryhttp.QueryRequest{Method: "query", RawYara: text}
			if cmd.Flags().Changed("taint") {
				in.Taint = &taint
			}
			c := o.client()
			var res queryhttp.QueryResponse
			if err := c.do(cmd.Context(), "POST", "/api/query/"+esc(priority), in, &res); err != nil {
				return err
			}
			fmt.Fprintln(o.out, res.QueryHash)
			if !wait {
				return nil
			}
			view, err := waitFor(cmd.Context(), c, res.QueryHash, poll)
			if err != nil {
				return err
			}
			printMatches(o.out, view)
			return nil
		},
	}
	cmd.Flags().StringVar(&taint, "taint", "", "restrict the job to datasets with this taint")
	cmd.Flags().StringVar(&priority, "priority", "medium", "high, medium or low")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes and print its matches")
	cmd.Flags().DurationVar(&poll, "poll", time.Second, "poll interval for --wait")
	return cmd
}

// waitFor polls a job until it is terminal, then reads all of its matches
func waitFor(ctx context.Context, c *client, id string, every time.Duration) (queryhttp.MatchesResponse, error) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		var v queryhttp.MatchesResponse
		if err := c.do(ctx, "GET", "/api/matches/"+esc(id)+"?limit=0", nil, &v); err != nil {
			return v, err
		}
		if v.Job.Status.Terminal() {
			return allMatches(ctx, c, id)
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-t.C:
		}
	}
}

func allMatches(ctx context.Context, c *client, id string) (queryhttp.MatchesResponse, error) {
	const page = 1000
	var out queryhttp.MatchesResponse
	for off := 0; ; off += page {
		var v queryhttp.MatchesResponse
		if err := c.do(ctx, "GET", fmt.Sprintf("/api/matches/%s?offset=%d&limit=%d", esc(id), off, page), nil, &v); err != nil {
			return out, err
		}
		out.Job, out.Total = v.Job, v.Total
		out.Matches = append(out.Matches, v.Matches...)
		if len(v.Matches) < page {
			return out, nil
		}
	}
}

func printMatches(w io.Writer, v queryhttp.MatchesResponse) {
	j := v.Job
	fmt.Fprintf(w, "job %s %s: %d/%d files, %d matched, %d errored\n",
		j.ID, j.Status, j.FilesProcessed, j.FilesTotal, j.FilesMatched, j.FilesErrored)
	if j.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", j.Error)
	}
	for _, m := range v.Matches {
		fmt.Fprintf(w, "%s\t%s\n", m.Dataset, m.File)
	}
}

func parseCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <rule-file|->",
		Short: "Show the index plan for a rule without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readRule(args[0])
			if err != nil {
				return err
			}
			var res queryhttp.ParseResponse
			in := queryhttp.QueryRequest{Method: "parse", RawYara: text}
			if err := o.client().do(cmd.Context(), "POST", "/api/query/medium", in, &res); err != nil {
				return err
			}
			enc := json.NewEncoder(o.out)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Plan)
		},
	}
}

func statusCmd(o *options) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job and a page of its matches, or list jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := o.client()
			if len(args) == 0 {
				var res queryhttp.BackendResponse
				if err := c.do(cmd.Context(), "GET", "/api/backend", nil, &res); err != nil {
					return err
				}
				for _, j := range res.Jobs {
					fmt.Fprintf(o.out, "%s\t%-9s\t%-6s\t%d/%d\t%s\n",
						j.ID, j.Status, j.Priority, j.FilesProcessed, j.FilesTotal, j.RuleName)
				}
				return nil
			}
			var v queryhttp.MatchesResponse
			path := fmt.Sprintf("/api/matches/%s?offset=%d&limit=%d", esc(args[0]), offset, limit)
			if err := c.do(cmd.Context(), "GET", path, nil, &v); err != nil {
				return err
			}
			printMatches(o.out, v)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "first match to show")
	cmd.Flags().IntVar(&limit, "limit", 50, "matches per page")
	return cmd
}

func cancelCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var j jobsdom.Job
			if err := o.client().do(cmd.Context(), "DELETE", "/api/job/"+esc(args[0]), nil, &j); err != nil {
				return err
			}
			fmt.Fprintf(o.out, "%s %s\n", j.ID, j.Status)
			return nil
		},
	}
}
