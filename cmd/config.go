package cmd

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jugglinmike/test262-harness/internal/controller"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "test262-harness"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	envPrefix = "TEST262"

	threadsFlagName         = "threads"
	timeoutFlagName         = "timeout"
	stopGraceFlagName       = "stop-grace"
	replaceTimedOutFlagName = "replace-timed-out"
	shardFlagName           = "shard"
	batchFlagName           = "batch"
	saveCompiledFlagName    = "save-compiled"
	hostTypeFlagName        = "host-type"
	hostPathFlagName        = "host-path"
	hostArgsFlagName        = "host-args"
	hostImageFlagName       = "host-image"
	hostPrintFlagName       = "host-print"
	transformFlagName       = "transform-cmd"
	test262DirFlagName      = "test262-dir"
	includesDirFlagName     = "includes-dir"
	preludeFlagName         = "prelude"
	featuresFlagName        = "features"
	acceptVersionFlagName   = "accept-version"
	reporterFlagName        = "reporter"
	reporterKeysFlagName    = "reporter-keys"
	sortFlagName            = "sort"
	dbFlagName              = "db"
	verboseFlagName         = "verbose"
	logFileFlagName         = "log-file"

	threadsKey         = "run.threads"
	timeoutKey         = "run.timeout"
	stopGraceKey       = "run.stop_grace"
	replaceTimedOutKey = "run.replace_timed_out"
	shardKey           = "run.shard"
	batchKey           = "run.batch"
	saveCompiledKey    = "report.save_compiled"
	hostTypeKey        = "host.type"
	hostPathKey        = "host.path"
	hostArgsKey        = "host.args"
	hostImageKey       = "host.image"
	hostPrintKey       = "host.print"
	hostTransformKey   = "host.transform"
	test262DirKey      = "corpus.test262_dir"
	includesDirKey     = "corpus.includes_dir"
	preludeKey         = "corpus.prelude"
	featuresKey        = "corpus.features"
	acceptVersionKey   = "corpus.accept_version"
	reporterKey        = "report.reporter"
	reporterKeysKey    = "report.keys"
	sortKey            = "report.sort"
	dbKey              = "report.db"

	defaultThreads         = 1
	defaultTimeoutMillis   = 10000
	defaultStopGraceMillis = 2000
	defaultReplaceTimedOut = true
	defaultBatch           = 1
	defaultHostType        = "node"
	defaultReporter        = controller.ReporterSimple
	defaultDB              = ".test262-results.db"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".test262-harness.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(configVersionKey, currentConfigVersion)

	viper.SetDefault(threadsKey, defaultThreads)
	viper.SetDefault(timeoutKey, defaultTimeoutMillis)
	viper.SetDefault(stopGraceKey, defaultStopGraceMillis)
	viper.SetDefault(replaceTimedOutKey, defaultReplaceTimedOut)
	viper.SetDefault(shardKey, "")
	viper.SetDefault(batchKey, defaultBatch)
	viper.SetDefault(saveCompiledKey, false)
	viper.SetDefault(hostTypeKey, defaultHostType)
	viper.SetDefault(hostPathKey, "")
	viper.SetDefault(hostArgsKey, []string{})
	viper.SetDefault(hostImageKey, "")
	viper.SetDefault(hostPrintKey, "")
	viper.SetDefault(hostTransformKey, "")
	viper.SetDefault(test262DirKey, "")
	viper.SetDefault(includesDirKey, "")
	viper.SetDefault(preludeKey, "")
	viper.SetDefault(featuresKey, []string{})
	viper.SetDefault(acceptVersionKey, "")
	viper.SetDefault(reporterKey, defaultReporter)
	viper.SetDefault(reporterKeysKey, "")
	viper.SetDefault(sortKey, false)
	viper.SetDefault(dbKey, defaultDB)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}

		return
	}
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger installs the global slog logger. Logs go to a rotating
// file, never to stdout, which belongs to the reporters.
//
// By default it logs at the configured level; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose || viper.GetBool(logVerboseKey) {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}
