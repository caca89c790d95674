package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	"github.com/jugglinmike/test262-harness/internal/controller"
	"github.com/jugglinmike/test262-harness/internal/domain"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

var (
	runThreadsFlag         int
	runTimeoutFlag         int
	runStopGraceFlag       int
	runReplaceTimedOutFlag bool
	runBatchFlag           int
	saveCompiledFlag       bool
	hostTypeFlag           string
	hostPathFlag           string
	hostArgsFlag           []string
	hostImageFlag          string
	hostPrintFlag          string
	transformFlag          string
	reporterFlag           string
	reporterKeysFlag       string
	sortFlag               bool

	test262DirFlag    string
	includesDirFlag   string
	preludeFlag       string
	featuresFlag      []string
	acceptVersionFlag string
	shardFlag         string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [patterns...]",
		Short: "Run test262 scenarios on a host",
		Long:  runLongDescription,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindCorpusFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			shard, err := parseShardFlag(viper.GetString(shardKey))
			if err != nil {
				return err
			}

			host, err := hostConfig()
			if err != nil {
				return err
			}

			batch := viper.GetInt(batchKey)
			if err := checkBatch(host, batch); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			threads := viper.GetInt(threadsKey)
			timeout := time.Duration(viper.GetInt(timeoutKey)) * time.Millisecond
			corpus := corpusConfig(args, threads)

			reporter, closeReporter, err := newReporter(cmd, cancel, adapter.RunMeta{
				HostType: host.Type,
				HostPath: host.Path,
				Patterns: corpus.Patterns,
				Threads:  threads,
				Timeout:  timeout,
			})
			if err != nil {
				return err
			}
			defer closeReporter()

			err = workflow.Test(ctx, domain.TestArgs{
				Run: domain.RunConfig{
					PoolSize:        threads,
					Timeout:         timeout,
					StopGrace:       time.Duration(viper.GetInt(stopGraceKey)) * time.Millisecond,
					ReplaceTimedOut: viper.GetBool(replaceTimedOutKey),
					BatchSize:       batch,
					Host:            host,
				},
				Corpus:       corpus,
				Shard:        shard,
				Reporter:     reporter,
				SaveCompiled: viper.GetBool(saveCompiledKey),
			})
			if errors.Is(err, domain.ErrPoolDepleted) {
				return fmt.Errorf("%w; pass --%s to start a fresh worker after each timeout", err, replaceTimedOutFlagName)
			}

			return err
		},
	}

	configureRunFlags(cmd)
	configureCorpusFlags(cmd)

	return cmd
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&runThreadsFlag, threadsFlagName, "t", defaultThreads, "number of workers running scenarios in parallel")
	bindFlagToConfig(cmd.Flags().Lookup(threadsFlagName), threadsKey)

	cmd.Flags().IntVar(&runTimeoutFlag, timeoutFlagName, defaultTimeoutMillis, "per-scenario timeout in milliseconds")
	bindFlagToConfig(cmd.Flags().Lookup(timeoutFlagName), timeoutKey)

	cmd.Flags().IntVar(&runStopGraceFlag, stopGraceFlagName, defaultStopGraceMillis, "milliseconds a timed out worker gets to stop")
	bindFlagToConfig(cmd.Flags().Lookup(stopGraceFlagName), stopGraceKey)

	cmd.Flags().BoolVar(&runReplaceTimedOutFlag, replaceTimedOutFlagName, defaultReplaceTimedOut, "start a fresh worker in place of each timed out one")
	bindFlagToConfig(cmd.Flags().Lookup(replaceTimedOutFlagName), replaceTimedOutKey)

	cmd.Flags().IntVar(&runBatchFlag, batchFlagName, defaultBatch, "scenarios run per host invocation, each in a fresh realm (hosts: "+strings.Join(adapter.BatchHostTypes(), ", ")+")")
	bindFlagToConfig(cmd.Flags().Lookup(batchFlagName), batchKey)

	cmd.Flags().BoolVar(&saveCompiledFlag, saveCompiledFlagName, false, "save the program of each scenario as <file>.<host-type>.<pass|fail> in the test262 checkout")
	bindFlagToConfig(cmd.Flags().Lookup(saveCompiledFlagName), saveCompiledKey)

	cmd.Flags().StringVar(&hostTypeFlag, hostTypeFlagName, defaultHostType, "host type: "+strings.Join(adapter.HostTypes(), ", "))
	bindFlagToConfig(cmd.Flags().Lookup(hostTypeFlagName), hostTypeKey)

	cmd.Flags().StringVar(&hostPathFlag, hostPathFlagName, "", "path to the host executable (node is looked up on PATH)")
	bindFlagToConfig(cmd.Flags().Lookup(hostPathFlagName), hostPathKey)

	cmd.Flags().StringArrayVar(&hostArgsFlag, hostArgsFlagName, nil, "extra argument passed to the host (can be repeated)")
	bindFlagToConfig(cmd.Flags().Lookup(hostArgsFlagName), hostArgsKey)

	cmd.Flags().StringVar(&hostImageFlag, hostImageFlagName, "", "container image for the docker host")
	bindFlagToConfig(cmd.Flags().Lookup(hostImageFlagName), hostImageKey)

	cmd.Flags().StringVar(&hostPrintFlag, hostPrintFlagName, "", "print routine of the host (e.g. console.log)")
	bindFlagToConfig(cmd.Flags().Lookup(hostPrintFlagName), hostPrintKey)

	cmd.Flags().StringVar(&transformFlag, transformFlagName, "", "shell command that rewrites scenario source from stdin to stdout")
	bindFlagToConfig(cmd.Flags().Lookup(transformFlagName), hostTransformKey)

	cmd.Flags().StringVarP(&reporterFlag, reporterFlagName, "r", defaultReporter, "reporter: "+strings.Join(controller.ReporterNames(), ", "))
	bindFlagToConfig(cmd.Flags().Lookup(reporterFlagName), reporterKey)

	cmd.Flags().StringVar(&reporterKeysFlag, reporterKeysFlagName, "", "comma separated record keys of the json reporter: "+strings.Join(controller.RecordKeys(), ","))
	bindFlagToConfig(cmd.Flags().Lookup(reporterKeysFlagName), reporterKeysKey)

	cmd.Flags().BoolVar(&sortFlag, sortFlagName, false, "emit json records sorted by file and scenario")
	bindFlagToConfig(cmd.Flags().Lookup(sortFlagName), sortKey)
}

// configureCorpusFlags declares the flags shared by run and list. They are
// bound to the config in PreRunE, so the command being executed owns the keys.
func configureCorpusFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&test262DirFlag, test262DirFlagName, "", "root of the test262 checkout (detected from the patterns)")
	cmd.Flags().StringVar(&includesDirFlag, includesDirFlagName, "", "directory of harness include files (default <test262-dir>/harness)")
	cmd.Flags().StringVar(&preludeFlag, preludeFlagName, "", "file prepended to every non-raw scenario")
	cmd.Flags().StringSliceVar(&featuresFlag, featuresFlagName, nil, "only keep tests using one of these features")
	cmd.Flags().StringVar(&acceptVersionFlag, acceptVersionFlagName, "", "accept this test262 version even if newer than supported")
	cmd.Flags().StringVarP(&shardFlag, shardFlagName, "s", "", "shard index and total shard count in the format INDEX/TOTAL (e.g., 0/3)")
}

func bindCorpusFlags(cmd *cobra.Command) error {
	for name, key := range map[string]string{
		test262DirFlagName:    test262DirKey,
		includesDirFlagName:   includesDirKey,
		preludeFlagName:       preludeKey,
		featuresFlagName:      featuresKey,
		acceptVersionFlagName: acceptVersionKey,
		shardFlagName:         shardKey,
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}

	return nil
}

func corpusConfig(args []string, buffer int) adapter.CorpusConfig {
	patterns := slices.Clone(args)
	dir := viper.GetString(test262DirKey)

	if len(patterns) == 0 {
		patterns = []string{filepath.Join(dir, "test")}
	}

	return adapter.CorpusConfig{
		Patterns:      patterns,
		Test262Dir:    dir,
		IncludesDir:   viper.GetString(includesDirKey),
		PreludePath:   viper.GetString(preludeKey),
		Features:      viper.GetStringSlice(featuresKey),
		AcceptVersion: viper.GetString(acceptVersionKey),
		Buffer:        buffer,
	}
}

// hostConfig builds the host of the run and rejects combinations no worker
// could start with.
func hostConfig() (m.HostConfig, error) {
	host := m.HostConfig{
		Type:         viper.GetString(hostTypeKey),
		Path:         viper.GetString(hostPathKey),
		Args:         viper.GetStringSlice(hostArgsKey),
		Image:        viper.GetString(hostImageKey),
		PrintCommand: viper.GetString(hostPrintKey),
		Transform:    adapter.CommandTransform(viper.GetString(hostTransformKey)),
	}

	if !slices.Contains(adapter.HostTypes(), host.Type) {
		return m.HostConfig{}, fmt.Errorf("unknown host type %q (supported: %s)", host.Type, strings.Join(adapter.HostTypes(), ", "))
	}

	switch host.Type {
	case adapter.HostNode, adapter.HostGoja:
	case adapter.HostDocker:
		if host.Image == "" {
			return m.HostConfig{}, errors.New("the docker host requires --host-image")
		}
	default:
		if host.Path == "" {
			return m.HostConfig{}, fmt.Errorf("host type %q requires --host-path", host.Type)
		}
	}

	return host, nil
}

// checkBatch rejects batch sizes no worker of the host could honor.
func checkBatch(host m.HostConfig, batch int) error {
	if batch < 1 {
		return fmt.Errorf("invalid --%s %d: must be at least 1", batchFlagName, batch)
	}

	if batch > 1 && !slices.Contains(adapter.BatchHostTypes(), host.Type) {
		return fmt.Errorf("--%s requires one of the host types %s", batchFlagName, strings.Join(adapter.BatchHostTypes(), ", "))
	}

	return nil
}

// newReporter builds the reporter selected by --reporter. The returned
// close func releases whatever the reporter holds open.
func newReporter(cmd *cobra.Command, cancel func(), meta adapter.RunMeta) (controller.Reporter, func(), error) {
	name := viper.GetString(reporterKey)
	keys := viper.GetString(reporterKeysKey)
	sorted := viper.GetBool(sortKey)

	if name != controller.ReporterJSON && (keys != "" || sorted) {
		return nil, nil, fmt.Errorf("--%s and --%s require the %s reporter", reporterKeysFlagName, sortFlagName, controller.ReporterJSON)
	}

	noop := func() {}

	switch name {
	case controller.ReporterSimple:
		return controller.NewSimpleUI(cmd), noop, nil
	case controller.ReporterJSON:
		parsed, err := controller.ParseRecordKeys(keys)
		if err != nil {
			return nil, nil, err
		}

		opts := []controller.JSONOption{controller.WithKeys(parsed...)}
		if sorted {
			opts = append(opts, controller.WithSorting(""))
		}

		return controller.NewJSONReporter(cmd.OutOrStdout(), opts...), noop, nil
	case controller.ReporterTUI:
		return controller.NewTUIReporter(
			cmd.OutOrStdout(),
			controller.WithInput(cmd.InOrStdin()),
			controller.WithCancel(cancel),
		), noop, nil
	case controller.ReporterStore:
		store, err := adapter.OpenResultStore(viper.GetString(dbKey))
		if err != nil {
			return nil, nil, err
		}

		reporter := controller.NewStoreReporter(store, meta, controller.NewSimpleUI(cmd))
		closeStore := func() {
			if id := reporter.RunID(); id != "" {
				cmd.Printf("Stored run %s in %s\n", id, viper.GetString(dbKey))
			}

			if err := store.Close(); err != nil {
				cmd.PrintErrln("Error: close results database:", err)
			}
		}

		return reporter, closeStore, nil
	default:
		return nil, nil, fmt.Errorf("unknown reporter %q (supported: %s)", name, strings.Join(controller.ReporterNames(), ", "))
	}
}

// parseShardFlag parses INDEX/TOTAL. An empty value selects every scenario.
func parseShardFlag(shard string) (domain.Shard, error) {
	if shard == "" {
		return domain.Shard{Index: 0, Total: 1}, nil
	}

	var index, total int

	_, err := fmt.Sscanf(shard, "%d/%d", &index, &total)
	if err != nil || total <= 0 || index < 0 || index >= total {
		return domain.Shard{}, fmt.Errorf("invalid --%s %q: want INDEX/TOTAL with 0 <= INDEX < TOTAL", shardFlagName, shard)
	}

	return domain.Shard{Index: index, Total: total}, nil
}
