package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"strategylab/internal/backtest"
	"strategylab/internal/catalog"
	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/indicator"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/internal/util"
)

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfgPath := config.Path("strategylab.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	return cfg, logger, nil
}

// openCatalog opens the indicator store and registers every stored
// indicator followed by the ones declared in the config, so config entries
// replace stored ones of the same name.
func openCatalog(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, *catalog.Registry, error) {
	db, err := store.NewSQLiteStore(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	stored, err := db.ListIndicators(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("listing stored indicators: %w", err)
	}
	reg := catalog.NewRegistry()
	specs := append(stored, cfg.Indicators...)
	if err := reg.RegisterAll(specs); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("registering indicators: %w", err)
	}
	return db, reg, nil
}

// dateRange parses the configured data window. An empty start reads from
// the Unix epoch and an empty end reads up to now.
func dateRange(d config.Data) (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()
	if d.Start != "" {
		t, err := parseTime(d.Start)
		if err != nil {
			return start, end, fmt.Errorf("data.start: %w", err)
		}
		start = t
	}
	if d.End != "" {
		t, err := parseTime(d.End)
		if err != nil {
			return start, end, fmt.Errorf("data.end: %w", err)
		}
		// A bare date includes the whole day.
		if len(d.End) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		end = t
	}
	if end.Before(start) {
		return start, end, &domain.ValidationError{Field: "data", Reason: "end is before start"}
	}
	return start, end, nil
}

var timeLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func loadBars(ctx context.Context, cfg *config.Config) ([]domain.Bar, error) {
	if cfg.Data.Symbol == "" {
		return nil, &domain.ValidationError{Field: "data.symbol", Reason: "is required"}
	}
	start, end, err := dateRange(cfg.Data)
	if err != nil {
		return nil, err
	}
	bars, err := store.NewParquetStore(cfg.Storage.DataDir).ReadBars(ctx, cfg.Data.Symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s between %s and %s", cfg.Data.Symbol,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return bars, nil
}

// paramFlag collects repeated -param name=value flags.
type paramFlag map[string]float64

func (p paramFlag) String() string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + strconv.FormatFloat(p[k], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("want name=value, got %q", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", name, err)
	}
	p[name] = v
	return nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print results as JSON")
	withBuiltins := fs.Bool("builtins", false, "also run the built-in strategies")
	only := fs.String("strategy", "", "run only the named strategy")
	symbol := fs.String("symbol", "", "symbol to backtest (overrides data.symbol)")
	fs.Parse(args)

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if *symbol != "" {
		cfg.Data.Symbol = strings.ToUpper(*symbol)
	}

	db, reg, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	configs, err := selectStrategies(cfg.Strategies, reg, *withBuiltins, *only)
	if err != nil {
		return err
	}
	bars, err := loadBars(ctx, cfg)
	if err != nil {
		return err
	}

	opts := backtest.Options{
		InitialCapital: cfg.Backtest.InitialCapital,
		CommissionRate: cfg.Backtest.CommissionRate,
		RiskFreeRate:   cfg.Backtest.RiskFreeRate,
		Logger:         logger,
	}
	logger.Info("running backtests",
		"symbol", cfg.Data.Symbol,
		"bars", len(bars),
		"strategies", len(configs),
		"workers", cfg.Backtest.Workers,
	)
	results, err := backtest.Sweep(ctx, bars, configs, opts, cfg.Backtest.Workers)
	if err != nil {
		return err
	}
	return writeResults(out, results, *asJSON)
}

// selectStrategies builds the configured definitions, optionally followed by
// the built-ins, and keeps only the one named by only when it is set.
func selectStrategies(defs []strategy.Definition, reg *catalog.Registry, withBuiltins bool, only string) ([]strategy.Config, error) {
	var configs []strategy.Config
	for _, d := range defs {
		if only != "" && d.Name != only {
			continue
		}
		c, err := d.Build(reg)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", d.Name, err)
		}
		configs = append(configs, c)
	}
	if withBuiltins {
		for _, c := range builtins.All() {
			if only == "" || c.Name == only {
				configs = append(configs, c)
			}
		}
	}
	if len(configs) == 0 {
		if only != "" {
			return nil, fmt.Errorf("no strategy named %q", only)
		}
		return nil, fmt.Errorf("no strategies configured")
	}
	return configs, nil
}

func writeResults(out io.Writer, results []*backtest.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := r.WriteText(out); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// indicator
// ---------------------------------------------------------------------------

func indicatorCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("indicator", flag.ExitOnError)
	params := paramFlag{}
	fs.Var(params, "param", "indicator parameter as name=value (repeatable)")
	tail := fs.Int("tail", 20, "print only the last n bars (0 for all)")
	asJSON := fs.Bool("json", false, "print lines as JSON")
	symbol := fs.String("symbol", "", "symbol to read (overrides data.symbol)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: strategylab indicator [options] NAME")
	}
	name := fs.Arg(0)

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if *symbol != "" {
		cfg.Data.Symbol = strings.ToUpper(*symbol)
	}
	db, reg, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := reg.Source(name)
	if err != nil {
		return err
	}
	bars, err := loadBars(ctx, cfg)
	if err != nil {
		return err
	}
	lines, err := src.Compute(ctx, indicator.Params(params), bars)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(lines)
	}
	return writeLines(out, bars, lines, *tail)
}

// writeLines prints one row per bar with a column per line. Undefined
// values print as "-".
func writeLines(out io.Writer, bars []domain.Bar, lines []indicator.Line, tail int) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"time"}
	for _, l := range lines {
		header = append(header, l.Name)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	from := 0
	if tail > 0 && len(bars) > tail {
		from = len(bars) - tail
	}
	for i := from; i < len(bars); i++ {
		row := []string{bars[i].Time.Format("2006-01-02")}
		for _, l := range lines {
			v := l.Values.At(i)
			if !v.Valid {
				row = append(row, "-")
				continue
			}
			row = append(row, decimal.NewFromFloat(v.Float).StringFixed(4))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	return tw.Flush()
}

// ---------------------------------------------------------------------------
// import
// ---------------------------------------------------------------------------

func importCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	symbol := fs.String("symbol", "", "symbol the bars belong to")
	file := fs.String("file", "", "CSV file with date,open,high,low,close[,volume] columns")
	fs.Parse(args)
	if *symbol == "" || *file == "" {
		return fmt.Errorf("usage: strategylab import -symbol SYM -file bars.csv")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	bars, err := readBarsCSV(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *file, err)
	}
	if err := domain.ValidateBars(bars); err != nil {
		return fmt.Errorf("reading %s: %w", *file, err)
	}

	sym := strings.ToUpper(*symbol)
	if err := store.NewParquetStore(cfg.Storage.DataDir).WriteBars(ctx, sym, bars); err != nil {
		return err
	}
	logger.Info("imported bars", "symbol", sym, "bars", len(bars),
		"from", bars[0].Time.Format("2006-01-02"),
		"to", bars[len(bars)-1].Time.Format("2006-01-02"),
	)
	fmt.Fprintf(out, "imported %d bars for %s\n", len(bars), sym)
	return nil
}

// ---------------------------------------------------------------------------
// catalog
// ---------------------------------------------------------------------------

func catalogCmd(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: strategylab catalog list|save|delete NAME")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, reg, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return listCatalog(out, reg)

	case "save":
		// Every config indicator has already compiled into reg.
		for _, spec := range cfg.Indicators {
			if err := db.SaveIndicator(ctx, spec); err != nil {
				return fmt.Errorf("saving %s: %w", spec.Name, err)
			}
			logger.Info("saved indicator", "name", spec.Name)
		}
		fmt.Fprintf(out, "saved %d indicators\n", len(cfg.Indicators))
		return nil

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: strategylab catalog delete NAME")
		}
		name := args[1]
		if err := reg.Unregister(name); err != nil {
			return err
		}
		if err := db.DeleteIndicator(ctx, name); err != nil {
			return err
		}
		logger.Info("deleted indicator", "name", name)
		return nil

	default:
		return fmt.Errorf("unknown catalog command %q", args[0])
	}
}

func listCatalog(out io.Writer, reg *catalog.Registry) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDEFINITION")
	for _, k := range indicator.Kinds() {
		fmt.Fprintf(tw, "%s\tbuilt-in\t%s\n", k, paramFlag(indicator.Defaults(k)))
	}
	for _, name := range reg.List() {
		spec, _ := reg.Get(name)
		def := spec.Formula
		if len(spec.Parameters) > 0 {
			def += "  [" + paramFlag(spec.Parameters).String() + "]"
		}
		fmt.Fprintf(tw, "%s\tcustom\t%s\n", name, def)
	}
	return tw.Flush()
}
