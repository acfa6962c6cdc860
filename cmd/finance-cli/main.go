// Package main implements finance-cli, which runs finance queries through the
// pipeline from a terminal without the HTTP API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"finance-orchestrator/internal/agents"
	"finance-orchestrator/internal/audit"
	"finance-orchestrator/internal/calculator"
	apperrors "finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/config"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
	"finance-orchestrator/internal/notify"
	"finance-orchestrator/internal/orchestrator"
	"finance-orchestrator/internal/pipeline"
	"finance-orchestrator/internal/security/injection"
	"finance-orchestrator/internal/security/pii"
	activities "finance-orchestrator/pkg/registry"
)

var version = "dev"

type options struct {
	configPath string
	provider   string
	logLevel   string
	pretty     bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:     "finance-cli",
		Short:   "Run finance queries through the orchestration pipeline",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config.yaml (default: search ./configs)")
	rootCmd.PersistentFlags().StringVar(&opts.provider, "provider", "", "override the llm provider (openai, anthropic, stub)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "indent JSON output")

	rootCmd.AddCommand(queryCmd(opts), replCmd(opts), registryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func queryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "query [text]",
		Short: "Process a single query and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPipeline(opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), p, strings.Join(args, " "), cmd.OutOrStdout(), opts.pretty)
		},
	}
}

func replCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Read one query per line from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := buildPipeline(opts)
			if err != nil {
				return err
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}
				if err := run(cmd.Context(), p, line, cmd.OutOrStdout(), opts.pretty); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
}

func registryCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the activity registry used by the process models",
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the registry against the known BPMN error codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := activities.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			codes := make(map[string]bool, len(apperrors.BPMNErrorMapping))
			for _, c := range apperrors.BPMNErrorMapping {
				codes[c] = true
			}
			if err := reg.Validate(codes); err != nil {
				return fmt.Errorf("registry validation failed: %w", err)
			}
			for _, a := range reg.Activities {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-6s retries=%d errors=%s\n",
					a.TaskType, a.Timeout, a.Retries, strings.Join(a.ErrorCodes, ","))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Registry validation passed.")
			return nil
		},
	}
	validate.Flags().StringVar(&path, "path", "configs/activity-registry.json", "path to the registry file")
	cmd.AddCommand(validate)
	return cmd
}

// run prints the response, or the error code and message when the query
// failed. Query failures are output, not command errors.
func run(ctx context.Context, p *pipeline.Pipeline, text string, out io.Writer, pretty bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var payload interface{}
	resp, err := p.Process(ctx, models.NewQuery(text, nil, ""))
	if err != nil {
		stdErr := apperrors.FromError(err)
		payload = map[string]interface{}{
			"status":     models.StatusError,
			"error_code": stdErr.Code,
			"message":    stdErr.Message,
		}
	} else {
		payload = resp
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(payload)
}

func buildPipeline(opts *options) (*pipeline.Pipeline, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.provider != "" {
		cfg.LLM.Provider = opts.provider
	}

	masker := pii.NewMasker()
	log := pii.NewMaskingLogger(logger.NewStructured(opts.logLevel, "console"), masker)

	validator := gateway.NewSchemaValidator()
	invoiceOpts := calculator.InvoiceOptions{
		Convention:       calculator.ParseRetentionConvention(cfg.Finance.RetentionConvention),
		RequirePOForAuto: cfg.Finance.RequirePOForAuto,
	}
	if err := orchestrator.RegisterSchemas(validator); err != nil {
		return nil, err
	}
	if err := agents.RegisterSchemas(validator,
		agents.InvoiceDomain(invoiceOpts), agents.PaymentDomain(), agents.CommissionDomain(),
	); err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.ConfigFrom(cfg.LLM), validator, log)
	if err != nil {
		return nil, fmt.Errorf("llm gateway: %w", err)
	}

	registry, err := agents.NewRegistry(
		agents.NewInvoiceAgent(gw, agents.Config{Model: cfg.LLM.AgentModel, MaxTokens: cfg.LLM.MaxTokens.Invoice}, invoiceOpts, log),
		agents.NewPaymentAgent(gw, agents.Config{Model: cfg.LLM.AgentModel, MaxTokens: cfg.LLM.MaxTokens.Payment}, log),
		agents.NewCommissionAgent(gw, agents.Config{Model: cfg.LLM.AgentModel, MaxTokens: cfg.LLM.MaxTokens.Commission}, log),
	)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(gw, orchestrator.Config{
		Model:               cfg.LLM.ClassificationModel,
		MaxTokens:           cfg.LLM.MaxTokens.Classification,
		ConfidenceThreshold: cfg.Orchestrator.ConfidenceThreshold,
	}, registry, log)

	scanner := injection.NewScanner(
		injection.WithSensitivity(cfg.Security.InjectionSensitivity),
		injection.WithLogger(log),
	)

	// approvals are reported in the response only; nothing is published from the CLI
	notifier := notify.NewApprovalNotifier(notify.Config{Enabled: false}, nil, nil, masker, log)

	return pipeline.New(scanner, orch, registry,
		pipeline.WithRecorder(audit.NewRecorder(masker, log, audit.NewLogSink(log))),
		pipeline.WithNotifier(notifier),
		pipeline.WithMasker(masker),
		pipeline.WithLogger(log),
	), nil
}
