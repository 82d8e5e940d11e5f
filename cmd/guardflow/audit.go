package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/agent/guardrails"
)

type auditQueryOptions struct {
	stages     []string
	events     []string
	guardrails []string
	runID      string
	since      time.Duration
	limit      int
	offset     int
}

type auditPruneOptions struct {
	olderThan time.Duration
	dryRun    bool
}

func newAuditCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the guardrail audit store (database backend)",
	}
	cmd.AddCommand(newAuditQueryCmd(global))
	cmd.AddCommand(newAuditPruneCmd(global))
	return cmd
}

func newAuditQueryCmd(global *globalOptions) *cobra.Command {
	opts := &auditQueryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print matching audit entries as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd, global, func(ctx context.Context, rt *appRuntime) error {
				filter := &guardrails.AuditLogFilter{
					Stages:         opts.stages,
					GuardrailNames: opts.guardrails,
					RunID:          opts.runID,
					Limit:          opts.limit,
					Offset:         opts.offset,
				}
				for _, e := range opts.events {
					filter.EventTypes = append(filter.EventTypes, guardrails.AuditEventType(e))
				}
				if opts.since > 0 {
					start := time.Now().Add(-opts.since)
					filter.StartTime = &start
				}

				entries, err := rt.store.Query(ctx, filter)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return fmt.Errorf("write entry: %w", err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.stages, "stage", nil, "filter by stage (repeatable)")
	cmd.Flags().StringSliceVar(&opts.events, "event", nil, "filter by event type: guardrail_failed, content_transformed, run_aborted")
	cmd.Flags().StringSliceVar(&opts.guardrails, "guardrail", nil, "filter by guardrail name (repeatable)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "filter by run id")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only entries newer than this duration")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "maximum number of entries, 0 for no limit")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "number of entries to skip")
	return cmd
}

func newAuditPruneCmd(global *globalOptions) *cobra.Command {
	opts := &auditPruneOptions{}
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd, global, func(ctx context.Context, rt *appRuntime) error {
				retention := opts.olderThan
				if retention <= 0 {
					retention = rt.cfg.Audit.Retention
				}
				if retention <= 0 {
					return fmt.Errorf("no retention configured; pass --older-than")
				}
				before := time.Now().Add(-retention)

				if opts.dryRun {
					n, err := rt.store.Count(ctx, &guardrails.AuditLogFilter{EndTime: &before})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "would delete %d entries older than %s\n", n, before.UTC().Format(time.RFC3339))
					return nil
				}

				n, err := rt.store.Prune(ctx, before)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries older than %s\n", n, before.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&opts.olderThan, "older-than", 0, "override audit.retention")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "only count the entries that would be deleted")
	return cmd
}

// withAuditStore 打开 database 审计后端并执行 fn
func withAuditStore(cmd *cobra.Command, global *globalOptions, fn func(ctx context.Context, rt *appRuntime) error) error {
	cfg, err := loadConfig(global.configPath)
	if err != nil {
		return err
	}
	if cfg.Audit.Backend != "database" {
		return fmt.Errorf("audit commands require audit.backend=database (got %q)", cfg.Audit.Backend)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &appRuntime{cfg: cfg, logger: logger}
	defer func() {
		if cerr := rt.Close(context.Background()); cerr != nil {
			logger.Warn("failed to release resources", zap.Error(cerr))
		}
	}()
	if err := rt.openAudit(ctx); err != nil {
		return err
	}
	return fn(ctx, rt)
}
