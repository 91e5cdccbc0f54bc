package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genomicore/internal/genomic"
	"genomicore/pkg/domain"
)

type runFlags struct {
	bucket      string
	subfolder   string
	key         string
	force       bool
	sinceMark   bool
	genome      string
	path        string
	members     []string
	field       string
	value       string
	cohorts     []string
	milestones  []string
	tubes       []string
	genomeTypes []string
}

func (f runFlags) request(kind domain.JobKind) (genomic.JobRequest, error) {
	req := genomic.JobRequest{
		Kind: kind,
		File: genomic.FileRef{
			Bucket:         f.bucket,
			Subfolder:      f.subfolder,
			Key:            f.key,
			Force:          f.force,
			SinceWatermark: f.sinceMark,
		},
		Genome:    domain.GenomeType(f.genome),
		Path:      f.path,
		MemberIDs: f.members,
		Field:     f.field,
		Criteria: genomic.Criteria{
			ConsentCohorts:       f.cohorts,
			EnrollmentMilestones: f.milestones,
			CollectionTubeIDs:    f.tubes,
		},
	}
	if f.value != "" {
		req.Value = f.value
	}
	for _, g := range f.genomeTypes {
		gt := domain.GenomeType(strings.TrimSpace(g))
		if !gt.Valid() {
			return genomic.JobRequest{}, fmt.Errorf("unknown genome type %q", g)
		}
		req.Criteria.GenomeTypes = append(req.Criteria.GenomeTypes, gt)
	}
	return req, nil
}

type fileSummary struct {
	Path   string           `json:"path"`
	Result domain.RunResult `json:"result"`
	Rows   int              `json:"rows"`
	Error  string           `json:"error,omitempty"`
}

type runSummary struct {
	RunID    string           `json:"run_id"`
	Job      domain.JobKind   `json:"job"`
	Result   domain.RunResult `json:"result"`
	Files    []fileSummary    `json:"files,omitempty"`
	Inserted int              `json:"inserted,omitempty"`
	Updated  int              `json:"updated,omitempty"`
	Advanced int              `json:"advanced,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func summarize(run domain.JobRun, kind domain.JobKind, sub genomic.SubProcessResult, runErr error) runSummary {
	s := runSummary{
		RunID:    run.ID,
		Job:      kind,
		Result:   run.Result,
		Inserted: sub.Inserted,
		Updated:  sub.Updated,
		Advanced: len(sub.Advanced),
	}
	for _, f := range sub.Files {
		fs := fileSummary{Path: f.Path, Result: f.Result, Rows: f.Rows}
		if f.Err != nil {
			fs.Error = f.Err.Error()
		}
		s.Files = append(s.Files, fs)
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return s
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job and print its outcome as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(domain.JobKind(args[0]))
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				run, sub, runErr := a.svc.Run(ctx, req)
				enc := json.NewEncoder(out(cmd))
				enc.SetIndent("", "  ")
				if err := enc.Encode(summarize(run, req.Kind, sub, runErr)); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.bucket, "bucket", "", "Bucket to scan (defaults to the job's configured source)")
	fl.StringVar(&f.subfolder, "subfolder", "", "Subfolder to scan")
	fl.StringVar(&f.key, "key", "", "Process only this object key")
	fl.BoolVar(&f.force, "force", false, "Re-ingest files that were already processed")
	fl.BoolVar(&f.sinceMark, "since-watermark", false, "Only consider objects modified after the last successful run")
	fl.StringVar(&f.genome, "genome", "", "Genome type for manifest jobs")
	fl.StringVar(&f.path, "path", "", "Manifest path for calculate_record_count")
	fl.StringSliceVar(&f.members, "member", nil, "Member IDs for update_members")
	fl.StringVar(&f.field, "field", "", "Field for update_members")
	fl.StringVar(&f.value, "value", "", "Value for update_members")
	fl.StringSliceVar(&f.cohorts, "cohort", nil, "Consent cohorts for create_sample_set")
	fl.StringSliceVar(&f.milestones, "milestone", nil, "Enrollment milestones for create_sample_set")
	fl.StringSliceVar(&f.tubes, "tube", nil, "Collection tube IDs for create_sample_set")
	fl.StringSliceVar(&f.genomeTypes, "genome-type", nil, "Genome types for create_sample_set")
	return cmd
}

func newJobsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the runnable job kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				for _, j := range a.svc.Jobs() {
					fmt.Fprintln(out(cmd), j)
				}
				return nil
			})
		},
	}
}
