package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/cache"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/evidence"
	"github.com/zen-systems/quorum/pkg/executor"
	"github.com/zen-systems/quorum/pkg/orchestrator"
	"github.com/zen-systems/quorum/pkg/router"
	"github.com/zen-systems/quorum/pkg/search"
	"github.com/zen-systems/quorum/pkg/telemetry"
	"github.com/zen-systems/quorum/pkg/usage"
)

var (
	configFile string
	debugFlag  bool
	aliases    *config.ModelAliases
)

func main() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:   "quorum",
		Short: "Answer hard questions by splitting them across models and reaching consensus",
		Long: `Quorum decomposes a query into sub-questions, routes each one to the
	model tier that suits its difficulty and topic, answers them concurrently,
	and merges the answers through a panel of models and an arbiter.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "log routing details")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(cacheCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var outFlag string
	var traceFlag bool
	var plainFlag bool
	var mockFlag bool
	var noCacheFlag bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a query through the full pipeline",
		Long: `Answers a query through the full pipeline. The query is read from the
	arguments, or from stdin when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if traceFlag {
				shutdown, err := telemetry.Init(os.Stderr)
				if err != nil {
					return err
				}
				defer func() {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := shutdown(flushCtx); err != nil {
						log.Printf("[quorum] trace flush: %v", err)
					}
				}()
			}

			adapters, err := createAdapters(cfg, mockFlag)
			if err != nil {
				return err
			}

			tracker := usage.NewTracker(cfg.RoutingConfig.Pricing)
			r := router.NewRouter(adapters, cfg.RoutingConfig,
				router.WithAliases(aliases),
				router.WithUsage(tracker),
				router.WithDebug(debugFlag))
			if err := r.Check(); err != nil {
				return fmt.Errorf("%w (set the provider API key or use --mock)", err)
			}

			var store cache.Store
			if !noCacheFlag && !cfg.RoutingConfig.Cache.Disabled {
				store, err = cache.Open(cfg.RoutingConfig.Cache.Backend, cfg.CachePath())
				if err != nil {
					return fmt.Errorf("failed to open cache: %w", err)
				}
				defer store.Close()
			}

			opts := []orchestrator.Option{orchestrator.WithStore(store)}
			if !mockFlag {
				searcher, err := createSearcher(cfg)
				if err != nil {
					return err
				}
				opts = append(opts, orchestrator.WithSearch(search.NewTool(searcher, store,
					search.WithLimits(cfg.RoutingConfig.Search.MaxResults, cfg.RoutingConfig.Search.MaxChars))))
			}

			res, err := orchestrator.New(r, opts...).Run(ctx, query)
			if err != nil {
				return err
			}

			if outFlag != "" {
				w, err := evidence.NewWriter(outFlag, res.RunID)
				if err != nil {
					return fmt.Errorf("failed to create evidence dir: %w", err)
				}
				if err := res.WriteEvidence(w); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Run report: %s\n", w.RunDir())
			}

			printSummary(os.Stderr, res)
			return renderAnswer(os.Stdout, res.Decision.Text, plainFlag)
		},
	}

	cmd.Flags().StringVar(&outFlag, "out", "", "write a run report under this directory")
	cmd.Flags().BoolVar(&traceFlag, "trace", false, "print OpenTelemetry spans to stderr")
	cmd.Flags().BoolVar(&plainFlag, "plain", false, "print the answer without markdown rendering")
	cmd.Flags().BoolVar(&mockFlag, "mock", false, "answer with the mock adapter instead of real providers")
	cmd.Flags().BoolVar(&noCacheFlag, "no-cache", false, "skip the durable cache")

	return cmd
}

func readQuery(args []string, stdin io.Reader) (string, error) {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query != "" {
		return query, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read query from stdin: %w", err)
	}
	query = strings.TrimSpace(string(data))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return query, nil
}

func printSummary(w io.Writer, res *orchestrator.Result) {
	failed := 0
	for _, a := range res.Answers {
		if a.Failed {
			failed++
		}
	}
	fmt.Fprintf(w, "Run %s: %d sub-question(s), %d failed, %s\n",
		res.RunID, len(res.SubQuestions), failed, res.Duration.Round(time.Millisecond))
	if res.Usage != nil {
		fmt.Fprintf(w, "Tokens: %d total across %d call(s)", res.Usage.TotalUsage.TotalTokens, len(res.Usage.Calls))
		if res.Usage.TotalAmount > 0 {
			fmt.Fprintf(w, ", est. %s %.4f", res.Usage.Currency, res.Usage.TotalAmount)
		}
		fmt.Fprintln(w)
	}
	if res.Decision.Guarded {
		fmt.Fprintf(w, "Decision was re-verified (verified=%t)\n", res.Decision.Verified)
	}
	fmt.Fprintln(w)
}

// renderAnswer renders markdown when stdout is a terminal.
func renderAnswer(w io.Writer, text string, plain bool) error {
	if plain || !isatty.IsTerminal(os.Stdout.Fd()) {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	out, err := renderer.Render(text)
	if err != nil {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show backend tiers, the selection table and consensus routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			adapters, err := createAdapters(cfg, false)
			if err != nil {
				return err
			}
			r := router.NewRouter(adapters, cfg.RoutingConfig, router.WithAliases(aliases))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tADAPTER\tMODEL\tRESOLVED\tSTATUS")
			for _, route := range r.GetRoutes() {
				status := "no key"
				if route.Available {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", route.Role, route.Adapter, route.Model, route.ResolvedModel, status)
			}

			fmt.Fprintln(w)
			fmt.Fprintln(w, "RULE\tCONDITION\tBACKEND\t\t")
			for _, rule := range router.Rules {
				fmt.Fprintf(w, "%d\t%s\t%s\t\t\n", rule.Number, rule.Description, rule.Backend)
			}

			fmt.Fprintln(w)
			fmt.Fprintf(w, "FIDELITY THRESHOLD\t%.2f\t\t\t\n", cfg.RoutingConfig.Consensus.FidelityThreshold)

			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available adapters, models, and aliases",
		Long: `Lists adapters and their available models.

	Use --resolve to show aliases and what they resolve to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases()
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")

			for _, provider := range aliases.ListProviders() {
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, strings.Join(aliases.ProviderModels(provider), ", "), status)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")

	return cmd
}

func showAliases() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")

	for _, alias := range aliases.SortedAliases() {
		model := aliases.Resolve(alias)
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, aliases.ProviderForModel(model))
	}

	return w.Flush()
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the routing config and that every route names a known model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.RoutingConfig.Validate(); err != nil {
				return err
			}

			errs := aliases.ValidateRoutingConfig(cfg.RoutingConfig)
			if len(errs) == 0 {
				fmt.Println("Routing config is valid.")
				return nil
			}

			fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "  - %s\n", err)
			}
			return fmt.Errorf("validation failed")
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the answer cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show where the cache lives and how many entries it holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := cache.Open(cfg.RoutingConfig.Cache.Backend, cfg.CachePath())
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}
			defer store.Close()

			n, err := store.Len()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "BACKEND\t%s\n", cfg.RoutingConfig.Cache.Backend)
			fmt.Fprintf(w, "PATH\t%s\n", cfg.CachePath())
			fmt.Fprintf(w, "ENTRIES\t%d\n", n)
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every persisted entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := cache.Open(cfg.RoutingConfig.Cache.Backend, cfg.CachePath())
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			cache.NewMemory(executor.Op, log.Printf).Clear()
			fmt.Printf("Cleared %s\n", cfg.CachePath())
			return nil
		},
	})

	return cmd
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithRoutingFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, err = config.LoadAliasesWithFallback("configs/models.yaml")
	if err != nil {
		log.Printf("[quorum] model aliases: %v (using built-in table)", err)
		aliases = config.DefaultAliases()
	}

	return cfg, nil
}

// createAdapters builds one guarded adapter per configured key. With mock set,
// every adapter a route names is served by the mock instead.
func createAdapters(cfg *config.Config, mock bool) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if mock {
		m := adapter.NewMockAdapter()
		for _, target := range cfg.RoutingConfig.Targets() {
			adapters[target.Adapter] = m
		}
		adapters["mock"] = m
		return adapters, nil
	}

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = guard(cfg, a)
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = guard(cfg, a)
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = guard(cfg, a)
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = guard(cfg, a)
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

func guard(cfg *config.Config, a adapter.Adapter) adapter.Adapter {
	routing := cfg.RoutingConfig
	limit := routing.RateLimits[a.Name()]
	return adapter.NewGuarded(a, adapter.GuardConfig{
		RequestsPerSecond: limit.RequestsPerSecond,
		Burst:             limit.Burst,
		BreakerFailures:   uint32(routing.Breaker.ConsecutiveFailures),
		BreakerTimeout:    time.Duration(routing.Breaker.OpenTimeoutMs) * time.Millisecond,
	}, log.Printf)
}

func createSearcher(cfg *config.Config) (search.Searcher, error) {
	switch cfg.RoutingConfig.Search.Provider {
	case config.SearchTavily:
		if cfg.TavilyAPIKey == "" {
			log.Printf("[quorum] TAVILY_API_KEY not set, falling back to DuckDuckGo")
			return search.NewDuckDuckGo(), nil
		}
		return search.NewTavily(cfg.TavilyAPIKey)
	case "", config.SearchDuckDuckGo:
		return search.NewDuckDuckGo(), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.RoutingConfig.Search.Provider)
	}
}
