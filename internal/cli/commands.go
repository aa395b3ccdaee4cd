// Copyright 2025 The gp-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/gpclient"
	"github.com/gpservices/gp-go/log"
)

func buildInfoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <service-url>",
		Short: "Print the metadata of a geoprocessing service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			svc, err := gpclient.Connect(ctx, args[0], e.conn)
			if err != nil {
				return err
			}
			props, err := svc.Properties(ctx)
			if err != nil {
				return err
			}
			return writeJSON(e.out, map[string]any{
				"url":        svc.URL(),
				"anonymous":  svc.Anonymous(),
				"version":    props.CurrentVersion(),
				"properties": props,
			})
		},
	}
}

func buildRunCommand(opts *rootOptions) *cobra.Command {
	var params paramFlags
	var cancelOnInterrupt bool

	cmd := &cobra.Command{
		Use:   "run <service-url> <task>",
		Short: "Run a task and wait for its results",
		Long: `Run submits a job for the task, logs its messages while it runs and prints
the job outputs once it succeeds. Parameters are given as key=value pairs;
values which parse as JSON are sent as JSON, anything else as a string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskParams, err := params.parse()
			if err != nil {
				return err
			}
			ctx, e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			async, err := e.connect(ctx, args[0])
			if err != nil {
				return err
			}
			job, err := async.Start(ctx, args[1], taskParams, "")
			if err != nil {
				return err
			}
			results, err := job.Wait(ctx)
			if err != nil && ctx.Err() != nil {
				return interrupted(ctx, job, cancelOnInterrupt)
			}
			if err != nil {
				return err
			}
			return writeJSON(e.out, map[string]any{"jobId": job.ID(), "results": results})
		},
	}
	params.register(cmd)
	cmd.Flags().BoolVar(&cancelOnInterrupt, "cancel-on-interrupt", false, "cancel the remote job when gpjob is interrupted")
	return cmd
}

// interrupted stops waiting for job and optionally cancels it remotely.
func interrupted(ctx context.Context, job *gpclient.Job, cancelRemote bool) error {
	defer job.Abandon()
	if !cancelRemote {
		log.Warn(ctx, "stopped waiting, the job keeps running", "job_id", job.ID())
		return ctx.Err()
	}
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := job.Cancel(cancelCtx); err != nil {
		return errors.Join(ctx.Err(), err)
	}
	log.Warn(ctx, "job cancellation requested", "job_id", job.ID())
	return ctx.Err()
}

func buildEstimateCommand(opts *rootOptions) *cobra.Command {
	var params paramFlags

	cmd := &cobra.Command{
		Use:   "estimate <service-url> <task>",
		Short: "Print the credit cost of running a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskParams, err := params.parse()
			if err != nil {
				return err
			}
			ctx, e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			async, err := e.connect(ctx, args[0])
			if err != nil {
				return err
			}
			estimate, err := async.EstimateCredits(ctx, args[1], taskParams)
			if err != nil {
				return err
			}
			return writeJSON(e.out, estimate)
		},
	}
	params.register(cmd)
	return cmd
}

// BatchFile lists the jobs run by the batch command.
type BatchFile struct {
	Jobs []BatchJob `yaml:"jobs"`
}

// BatchJob is a single task run of a batch.
type BatchJob struct {
	Name    string         `yaml:"name"`
	Service string         `yaml:"service"`
	Task    string         `yaml:"task"`
	Params  map[string]any `yaml:"params"`
}

// BatchResult is the outcome of a BatchJob.
type BatchResult struct {
	Name    string     `json:"name"`
	JobID   string     `json:"jobId,omitempty"`
	Outcome string     `json:"outcome"`
	Results gp.Results `json:"results,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func loadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var batch BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	for i := range batch.Jobs {
		job := &batch.Jobs[i]
		if job.Service == "" || job.Task == "" {
			return nil, fmt.Errorf("batch job %d: service and task are required", i)
		}
		if job.Name == "" {
			job.Name = fmt.Sprintf("%s-%d", job.Task, i)
		}
	}
	return &batch, nil
}

func buildBatchCommand(opts *rootOptions) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Run the jobs listed in a batch file concurrently",
		Long: `Batch runs every job of the file, at most --concurrency at a time, and
prints one result per job in file order. A failing job doesn't stop the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
			}
			batch, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			ctx, e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			results := e.runBatch(ctx, batch, concurrency)
			if err := writeJSON(e.out, results); err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum number of jobs running at once")
	return cmd
}

func (e *env) runBatch(ctx context.Context, batch *BatchFile, concurrency int) []BatchResult {
	services := &serviceCache{env: e, services: map[string]*serviceEntry{}}
	results := make([]BatchResult, len(batch.Jobs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, job := range batch.Jobs {
		g.Go(func() error {
			results[i] = services.run(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// serviceCache connects to every distinct service of a batch once.
type serviceCache struct {
	env      *env
	mu       sync.Mutex
	services map[string]*serviceEntry
}

type serviceEntry struct {
	once  sync.Once
	async *gpclient.AsyncService
	err   error
}

func (c *serviceCache) get(ctx context.Context, serviceURL string) (*gpclient.AsyncService, error) {
	c.mu.Lock()
	entry, ok := c.services[serviceURL]
	if !ok {
		entry = &serviceEntry{}
		c.services[serviceURL] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.async, entry.err = c.env.connect(ctx, serviceURL)
	})
	return entry.async, entry.err
}

func (c *serviceCache) run(ctx context.Context, job BatchJob) BatchResult {
	result := BatchResult{Name: job.Name}
	ctx = log.With(ctx, "batch_job", job.Name)

	async, err := c.get(ctx, job.Service)
	if err != nil {
		result.Outcome, result.Error = gp.Outcome(err), err.Error()
		return result
	}
	handle, err := async.Start(ctx, job.Task, gp.TaskParameters(job.Params), "")
	if err != nil {
		result.Outcome, result.Error = gp.Outcome(err), err.Error()
		return result
	}
	result.JobID = handle.ID()
	out, err := handle.Wait(ctx)
	if err != nil {
		handle.Abandon()
		result.Error = err.Error()
	}
	result.Outcome = gp.Outcome(err)
	result.Results = out
	return result
}

func buildHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the latest jobs recorded in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			if e.ledger == nil {
				return errors.New("history requires a ledger, set ledger.dsn or --db")
			}
			records, err := e.ledger.Recent(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				if _, err := fmt.Fprintf(e.out, "%s\t%s\t%s\t%s\t%s\n",
					r.SubmittedAt.Format(time.RFC3339), r.Task, r.JobID, r.Status, r.Elapsed); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to list")
	return cmd
}

// paramFlags collects task parameters given on the command line.
type paramFlags struct {
	pairs []string
	file  string
}

func (p *paramFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&p.pairs, "param", "p", nil, "task parameter as key=value, repeatable")
	cmd.Flags().StringVar(&p.file, "params-file", "", "JSON file holding an object of task parameters")
}

func (p *paramFlags) parse() (gp.TaskParameters, error) {
	params := gp.TaskParameters{}
	if p.file != "" {
		data, err := os.ReadFile(p.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read params file: %w", err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("failed to parse params file %s: %w", p.file, err)
		}
	}
	for _, pair := range p.pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params.Set(key, decoded)
		} else {
			params.Set(key, value)
		}
	}
	return params, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
