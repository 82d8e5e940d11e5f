package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/guardflow/agent"
	"github.com/BaSui01/guardflow/agent/guardrails"
	"github.com/BaSui01/guardflow/types"
)

// checkOptions check 子命令选项
type checkOptions struct {
	stage       string
	file        string
	role        string
	tenantID    string
	userID      string
	metricsFile string
	feedback    bool
}

// checkReport check 子命令的 JSON 输出
type checkReport struct {
	RunID      string                      `json:"run_id"`
	Stage      string                      `json:"stage"`
	Passed     bool                        `json:"passed"`
	Aborted    bool                        `json:"aborted"`
	Content    string                      `json:"content"`
	Changed    bool                        `json:"changed"`
	Failures   []guardrails.Failure        `json:"failures"`
	Transforms []guardrails.Transformation `json:"transforms,omitempty"`
	Abort      *abortReport                `json:"abort,omitempty"`
	Feedback   string                      `json:"feedback,omitempty"`
}

type abortReport struct {
	Name     string              `json:"name"`
	Reason   string              `json:"reason"`
	Severity guardrails.Severity `json:"severity"`
}

func newCheckCmd(global *globalOptions) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the configured guardrails for one stage over stdin or a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.stage, "stage", "s", agent.StageInput, "guardrail stage: input or output")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read content from file instead of stdin")
	cmd.Flags().StringVar(&opts.role, "role", "", "content role (default user for input, model for output)")
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "tenant id used by rate limiters and audit")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id used by rate limiters and audit")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&opts.feedback, "feedback", false, "include a regeneration feedback message when the check fails")
	return cmd
}

func runCheck(cmd *cobra.Command, global *globalOptions, opts *checkOptions) error {
	if opts.stage != agent.StageInput && opts.stage != agent.StageOutput {
		return fmt.Errorf("invalid stage %q (supported: input, output)", opts.stage)
	}

	cfg, err := loadConfig(global.configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	text, err := readContent(cmd.InOrStdin(), opts.file)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newAppRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.Background()); cerr != nil {
			logger.Warn("failed to release resources", zap.Error(cerr))
		}
	}()

	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	if opts.tenantID != "" {
		ctx = types.WithTenantID(ctx, opts.tenantID)
	}
	if opts.userID != "" {
		ctx = types.WithUserID(ctx, opts.userID)
	}

	content := types.NewTextContent(roleFor(opts), text)
	var (
		out    types.Content
		result *guardrails.ExecutionResult
	)
	if opts.stage == agent.StageInput {
		out, result, err = rt.coordinator.CheckInput(ctx, content)
	} else {
		out, result, err = rt.coordinator.CheckOutput(ctx, content)
	}

	report := checkReport{
		RunID:    runID,
		Stage:    opts.stage,
		Content:  out.Text(),
		Failures: []guardrails.Failure{},
	}
	code := exitOK
	if abort, ok := guardrails.IsAbort(err); ok {
		report.Aborted = true
		report.Abort = &abortReport{Name: abort.Name, Reason: abort.Reason, Severity: abort.Severity}
		code = exitAborted
	} else if err != nil && !types.IsErrorCode(err, types.ErrGuardrailsViolated) {
		return err
	}
	if result != nil {
		report.Passed = result.Passed
		report.Changed = result.TransformedContent != nil
		report.Failures = append(report.Failures, result.Failures...)
		report.Transforms = result.Transforms
		if !result.Passed {
			code = exitViolated
			if opts.feedback {
				report.Feedback = agent.BuildValidationFeedbackMessage(result)
			}
		}
	}

	logger.Info("guardrail check finished",
		zap.String("run_id", runID),
		zap.String("stage", opts.stage),
		zap.Bool("passed", report.Passed),
		zap.Bool("aborted", report.Aborted),
		zap.Int("failures", len(report.Failures)),
	)

	if err := rt.writeMetrics(opts.metricsFile); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if code != exitOK {
		return &exitCodeError{code: code, silent: true}
	}
	return nil
}

func roleFor(opts *checkOptions) types.Role {
	if opts.role != "" {
		return types.Role(opts.role)
	}
	if opts.stage == agent.StageOutput {
		return types.RoleModel
	}
	return types.RoleUser
}

func readContent(stdin io.Reader, path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read content file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
