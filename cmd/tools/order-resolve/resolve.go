package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"order-workers/internal/common/genai"
	"order-workers/internal/common/logger"
	"order-workers/internal/models"
	"order-workers/internal/ordering/continuation"
	"order-workers/internal/ordering/decision"
	"order-workers/internal/ordering/extractor"
	"order-workers/internal/ordering/pipeline"
	"order-workers/internal/store/catalog"
)

type options struct {
	catalogPath    string
	ordersPath     string
	conversationID string
	customerID     string
	messageID      string
	receivedAt     string
	context        string
	oracleURL      string
	oracleKey      string
	oracleModel    string
	oracleTimeout  time.Duration
	threshold      float64
	window         time.Duration
	keywords       []string
	verbose        bool
}

func rootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "order-resolve [message text]",
		Short: "Resolve a chat message against a local catalog",
		Long: `order-resolve runs one chat message through the order resolution pipeline
without touching any database and prints the resolution as JSON.

The catalog and the conversation's recent orders are read from YAML files.
Without --oracle-url only the heuristic extractor is used.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, strings.Join(args, " "))
		},
		SilenceUsage: true,
	}

	f := cmd.Flags()
	f.StringVarP(&opts.catalogPath, "catalog", "c", "", "catalog YAML file (required)")
	f.StringVarP(&opts.ordersPath, "orders", "o", "", "recent orders YAML file")
	f.StringVar(&opts.conversationID, "conversation", "cli", "conversation id")
	f.StringVar(&opts.customerID, "customer", "", "customer id")
	f.StringVar(&opts.messageID, "message-id", "", "message id (default: random)")
	f.StringVar(&opts.receivedAt, "received-at", "", "RFC3339 arrival time (default: now)")
	f.StringVar(&opts.context, "context", "", "prior conversation text passed to the oracle")
	f.StringVar(&opts.oracleURL, "oracle-url", "", "GenAI gateway base URL")
	f.StringVar(&opts.oracleKey, "oracle-key", os.Getenv("GENAI_API_KEY"), "GenAI gateway API key")
	f.StringVar(&opts.oracleModel, "oracle-model", "", "model name sent to the gateway")
	f.DurationVar(&opts.oracleTimeout, "oracle-timeout", pipeline.DefaultOracleTimeout, "oracle call timeout")
	f.Float64Var(&opts.threshold, "threshold", decision.DefaultThreshold, "minimum intent confidence for committing")
	f.DurationVar(&opts.window, "window", continuation.DefaultWindow, "continuation window")
	f.StringSliceVar(&opts.keywords, "keyword", nil, "extra heuristic product keyword (repeatable)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline stages to stderr")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runResolve(cmd *cobra.Command, opts *options, text string) error {
	msg, err := opts.message(text)
	if err != nil {
		return err
	}

	entries, err := catalog.NewFileSource(opts.catalogPath).Load(cmd.Context())
	if err != nil {
		return err
	}
	recent, err := loadOrders(opts.ordersPath)
	if err != nil {
		return err
	}

	log := logger.NewNoOpLogger()
	if opts.verbose {
		log = logger.NewStructured("debug", "console")
	}

	resolverOpts := []pipeline.Option{
		pipeline.WithExtractor(extractor.New(extractor.WithKeywords(opts.keywords...))),
		pipeline.WithDetector(continuation.New(continuation.WithWindow(opts.window))),
		pipeline.WithThreshold(opts.threshold),
		pipeline.WithOracleTimeout(opts.oracleTimeout),
		pipeline.WithLogger(log),
	}
	if opts.oracleURL != "" {
		oracle := genai.NewClient(genai.Config{
			BaseURL: opts.oracleURL,
			APIKey:  opts.oracleKey,
			Model:   opts.oracleModel,
		}, log)
		resolverOpts = append(resolverOpts, pipeline.WithOracle(oracle))
	}

	res, err := pipeline.NewResolver(resolverOpts...).Resolve(cmd.Context(), msg, entries, recent)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func (o *options) message(text string) (models.Message, error) {
	msg := models.Message{
		ID:             o.messageID,
		Text:           text,
		ConversationID: o.conversationID,
		CustomerID:     o.customerID,
		ReceivedAt:     time.Now().UTC(),
		Context:        o.context,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if o.receivedAt != "" {
		at, err := time.Parse(time.RFC3339, o.receivedAt)
		if err != nil {
			return models.Message{}, fmt.Errorf("--received-at: %w", err)
		}
		msg.ReceivedAt = at.UTC()
	}
	return msg, nil
}

type ordersFile struct {
	Orders []models.Order `yaml:"orders"`
}

// loadOrders reads recent orders from YAML. An empty path means none.
func loadOrders(path string) ([]models.Order, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	var f ordersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse orders %s: %w", path, err)
	}
	for i, o := range f.Orders {
		if o.ID == "" {
			return nil, fmt.Errorf("parse orders %s: entry %d has no id", path, i)
		}
		if o.Status == "" {
			return nil, fmt.Errorf("parse orders %s: order %s has no status", path, o.ID)
		}
	}
	return f.Orders, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
