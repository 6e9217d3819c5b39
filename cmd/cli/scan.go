package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/azula/internal/address"
	"github.com/anstrom/azula/internal/config"
	"github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/limits"
	"github.com/anstrom/azula/internal/logging"
	"github.com/anstrom/azula/internal/metrics"
	"github.com/anstrom/azula/internal/ports"
	"github.com/anstrom/azula/internal/scanning"
	"github.com/anstrom/azula/internal/scripts"
)

// scanFlags holds the flags of one scan command instance.
type scanFlags struct {
	addresses   []string
	ports       string
	portRange   string
	top         bool
	batchSize   int
	timeout     int
	tries       int
	ulimit      uint64
	scanOrder   string
	scripts     string
	exclude     string
	udp         bool
	resolver    string
	greppable   bool
	accessible  bool
	progress    bool
	metricsAddr string
}

// viperKeys maps configuration keys onto the scalar flags overriding them.
var viperKeys = map[string]string{
	"top":        "top",
	"batch_size": "batch-size",
	"timeout":    "timeout",
	"tries":      "tries",
	"ulimit":     "ulimit",
	"scan_order": "scan-order",
	"scripts":    "scripts",
	"udp":        "udp",
	"resolver":   "resolver",
	"greppable":  "greppable",
	"accessible": "accessible",
}

func newScanCmd() *cobra.Command {
	cmd, _ := newScanCommand()
	return cmd
}

// newScanCommand returns the scan command together with its flag values.
func newScanCommand() (*cobra.Command, *scanFlags) {
	f := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan [flags] [-- script arguments]",
		Short: "Scan hosts for open ports",
		Long: `Scan probes every port of every address and reports the open ones.

Addresses may be IPs, CIDR blocks, host names or files listing any of these,
one per line. Hosts with open ports are handed to the post-scan scripts;
arguments after -- are appended to each script call.`,
		Example: `  azula scan -a 192.168.1.0/24 --top
  azula scan -a example.com -p 22,80,443 -g
  azula scan -a 10.0.0.1 -r 1-1000 --udp --scripts none
  azula scan -a 10.0.0.1 -- -A -sC`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, f, args)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&f.addresses, "addresses", "a", nil, "comma separated addresses, CIDR blocks, host names or host files")
	flags.StringVarP(&f.ports, "ports", "p", "", "comma separated ports to scan, e.g. 22,80,443")
	flags.StringVarP(&f.portRange, "range", "r", "", "port range to scan, e.g. 1-1000")
	flags.BoolVar(&f.top, "top", false, "scan the most common ports")
	flags.IntVarP(&f.batchSize, "batch-size", "b", scanning.DefaultBatchSize, "number of probes in flight")
	flags.IntVarP(&f.timeout, "timeout", "t", int(scanning.DefaultTimeout/time.Millisecond), "probe timeout in milliseconds")
	flags.IntVar(&f.tries, "tries", scanning.DefaultTries, "attempts per port before giving up")
	flags.Uint64VarP(&f.ulimit, "ulimit", "u", 0, "raise the open file limit to this value")
	flags.StringVar(&f.scanOrder, "scan-order", ports.Serial.String(), "port order: serial or random")
	flags.StringVar(&f.scripts, "scripts", string(scripts.ModeDefault), "post-scan scripts: none, default or custom")
	flags.StringVarP(&f.exclude, "exclude-ports", "e", "", "comma separated ports to skip")
	flags.BoolVar(&f.udp, "udp", false, "probe UDP instead of TCP")
	flags.StringVar(&f.resolver, "resolver", "", "resolver IPs, comma separated or a file")
	flags.BoolVarP(&f.greppable, "greppable", "g", false, "only print 'ip -> [ports]' lines")
	flags.BoolVar(&f.accessible, "accessible", false, "plain output for screen readers")
	flags.BoolVar(&f.progress, "progress", false, "show a progress bar on stderr")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the scan")

	return cmd, f
}

// loadScanConfig merges defaults, the config file, AZULA_* variables and
// the flags of cmd, in increasing precedence.
func loadScanConfig(cmd *cobra.Command, f *scanFlags, args []string) (*config.Config, error) {
	v := config.NewViper()
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for key, name := range viperKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	if flags.Changed("metrics-addr") {
		v.Set("metrics.enabled", true)
		v.Set("metrics.listen_addr", f.metricsAddr)
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}

	if err := applyListFlags(cfg, flags, f); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Command = args
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfigFile loads --config, or ~/.azula.yaml when it exists.
func readConfigFile(v *viper.Viper) error {
	if noConfig {
		return nil
	}

	path := cfgFile
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.WrapConfigError(errors.CodeFileNotFound,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// applyListFlags overrides the list settings that viper cannot decode from
// their flag syntax. Ports and range replace each other.
func applyListFlags(cfg *config.Config, flags *pflag.FlagSet, f *scanFlags) error {
	if flags.Changed("addresses") {
		cfg.Addresses = f.addresses
	}
	if flags.Changed("ports") {
		list, err := ports.ParseList(f.ports)
		if err != nil {
			return err
		}
		cfg.Ports = list
		cfg.Range = ""
	}
	if flags.Changed("range") {
		cfg.Range = f.portRange
		if !flags.Changed("ports") {
			cfg.Ports = nil
		}
	}
	if flags.Changed("exclude-ports") {
		list, err := ports.ParseList(f.exclude)
		if err != nil {
			return err
		}
		cfg.ExcludePorts = list
	}
	return nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logging.SetDefault(logger)
	return logger, nil
}

func runScan(cmd *cobra.Command, f *scanFlags, args []string) error {
	cfg, err := loadScanConfig(cmd, f, args)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	out := NewPrinter(stdout, cfg.Greppable, cfg.Accessible)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runners, err := loadRunners(cfg, logger)
	if err != nil {
		out.Warning("Initiating scripts failed!")
		out.Warning(err.Error())
		return errAborted
	}

	resolver, err := address.NewResolver(cfg.Resolver, cfg.TimeoutDuration())
	if err != nil {
		return err
	}
	addrs, err := address.NewParser(resolver, logger).Parse(ctx, cfg.Addresses)
	if err != nil {
		if errors.IsCode(err, errors.CodeNoAddresses) {
			out.Warning("No IPs could be resolved, aborting scan.")
			return errAborted
		}
		return err
	}

	cfg.BatchSize = fitBatchSize(cfg, out, logger)

	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}
	scanCfg, err := cfg.ScanConfig()
	if err != nil {
		return err
	}

	recorder := metrics.ProbeRecorder(metrics.NewRegistryRecorder(metrics.Default()))
	if cfg.Metrics.Enabled {
		pm := metrics.NewPrometheusMetrics()
		srv, err := newMetricsServer(cfg.Metrics.ListenAddr, pm, logger)
		if err != nil {
			return err
		}
		srv.start(ctx)
		defer func() {
			if err := srv.stop(); err != nil {
				logger.Warn("Metrics server did not stop cleanly", "error", err)
			}
		}()
		recorder = metrics.MultiRecorder{recorder, pm}
	}

	opts := []scanning.Option{
		scanning.WithLogger(logger),
		scanning.WithMetrics(recorder),
		scanning.WithOpenHandler(out.Open),
	}
	var bar *progressbar.ProgressBar
	if f.progress && !cfg.Greppable {
		total := len(addrs) * len(strategy.Without(scanCfg.ExcludePorts))
		bar = newProgressBar(cmd.ErrOrStderr(), total)
		opts = append(opts, scanning.WithProgressHandler(func() { _ = bar.Add(1) }))
	}

	scanner := scanning.New(addrs, strategy, scanCfg, opts...)
	out.Detail(fmt.Sprintf("Scanning %d address(es) with a batch size of %d and a %dms timeout.",
		len(addrs), scanCfg.BatchSize, cfg.Timeout))

	scanStart := time.Now()
	result, runErr := scanner.Run(ctx)
	scanDuration := time.Since(scanStart)
	if bar != nil {
		_ = bar.Finish()
	}
	if runErr != nil {
		out.Warning(runErr.Error())
		if result == nil {
			return errAborted
		}
	}
	for _, e := range result.Errors {
		logger.Debug("Probe failed", "error", e)
	}

	reportMissing(out, addrs, result, scanCfg.BatchSize)

	scriptStart := time.Now()
	byAddr := result.ByAddress()
	for _, addr := range result.OpenAddrs() {
		open := byAddr[addr]
		if cfg.Greppable || len(runners) == 0 || runErr != nil {
			out.Host(addr, open)
			continue
		}
		for _, runner := range runners {
			out.Detail(fmt.Sprintf("Running script %q on ip %s\n"+
				"Depending on the complexity of the script, results may take some time to appear.",
				runner.Name(), addr))
			output, err := runner.Run(ctx, addr, open)
			if err != nil {
				out.Warning(fmt.Sprintf("Error %v", err))
				continue
			}
			fmt.Fprint(stdout, output)
		}
	}
	scriptDuration := time.Since(scriptStart)

	if !cfg.Greppable && len(result.Open) > 0 {
		if err := renderSummary(stdout, result); err != nil {
			logger.Warn("Failed to render summary", "error", err)
		}
	}

	logger.Info("Scan finished",
		"scan_id", scanner.ScanID(),
		"scan_duration", scanDuration,
		"script_duration", scriptDuration,
		"attempted", result.Attempted,
		"open", len(result.Open),
		"errors", len(result.Errors))

	if runErr != nil {
		return errAborted
	}
	return nil
}

func loadRunners(cfg *config.Config, logger *logging.Logger) ([]scripts.Runner, error) {
	mode, err := scripts.ParseMode(cfg.Scripts)
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil && mode == scripts.ModeCustom {
		return nil, err
	}
	return scripts.Load(mode, home, cfg.Command, logger)
}

// fitBatchSize raises the descriptor limit when asked and shrinks the batch
// size to what the limit allows.
func fitBatchSize(cfg *config.Config, out *Printer, logger *logging.Logger) int {
	ulimit, err := limits.AdjustUlimit(cfg.Ulimit)
	switch {
	case err != nil:
		out.Warning(err.Error())
	case cfg.Ulimit > 0:
		out.Detail(fmt.Sprintf("Automatically increasing ulimit value to %d.", ulimit))
	}

	batch, notes := limits.InferBatchSize(uint64(cfg.BatchSize), ulimit, cfg.Ulimit > 0)
	for _, note := range notes {
		out.Warning(note)
	}
	if batch < 1 {
		batch = 1
	}
	logger.Debug("Batch size fitted", "requested", cfg.BatchSize, "batch_size", batch, "ulimit", ulimit)
	return int(batch)
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Probing[reset]"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
