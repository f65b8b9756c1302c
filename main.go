package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/schollz/progressbar/v2"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/lumafield/fio-dashboard/fioapi"
	"github.com/lumafield/fio-dashboard/fiomark"
	"github.com/lumafield/fio-dashboard/fioserver"
)

// use go build -ldflags "-X main.buildstamp=`date -u '+%Y-%m-%d_%I:%M:%S%p'` -X main.githash=`git rev-parse HEAD`"
var buildstamp = "No build stamp provided"
var githash = "No git hash provided"

// defaults that can be set in the environment or in .env.local, all prefixed with FIODASH_
type envConfig struct {
	Source     string        `envconfig:"SOURCE" default:"http://localhost:8000"`
	Username   string        `envconfig:"USERNAME"`
	Password   string        `envconfig:"PASSWORD"`
	Token      string        `envconfig:"TOKEN"`
	BucketName string        `envconfig:"BUCKET_NAME"`
	Region     string        `envconfig:"REGION"`
	Endpoint   string        `envconfig:"ENDPOINT"`
	Listen     string        `envconfig:"LISTEN"`
	LogLevel   string        `envconfig:"LOG_LEVEL" default:"info"`
	Locale     string        `envconfig:"LOCALE" default:"en"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"30s"`
	Retries    int           `envconfig:"RETRIES" default:"3"`
}

// wether to display the version information
var showVersion bool

// if not empty, the dashboard is saved as .csv file
var csvFileName string

// if not empty, the dashboard is saved as .json file
var jsonFileName string

// if not empty, an existing .json export is published instead of building a new one
var publishReportFile string

// whether to create a bucket on startup
var createBucket bool

// path for log file
var logPath string

// if not empty, the dashboard service listens on this address
var listenAddr string

// whether to rebuild the export every time the source file changes
var watchMode bool

// quiet period before a change of the source file triggers a rebuild
var debounceDelay time.Duration

// locale of the numbers printed to stdout
var locale string

// FIO output files uploaded to the backend instead of building an export
var importFiles []string

var logger = logrus.New()

// the backend client the dashboard is built from
var client fioapi.Client

// the context for this export includes everything that's needed to fetch, derive and publish
var ctx *fiomark.DashboardContext

// program entry point
func main() {
	parseFlags()
	if showVersion {
		displayVersion()
		return
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if createBucket {
		createExportBucket(runCtx)
	}

	switch {
	case len(importFiles) > 0:
		importRuns(runCtx)
	case publishReportFile != "":
		publishReport(runCtx)
	case listenAddr != "":
		serve(runCtx)
	case watchMode:
		watch(runCtx)
	default:
		if err := runExport(runCtx); err != nil {
			logger.WithError(err).Fatal("export failed")
		}
	}
}

func parseFlags() {
	// .env.local is optional
	_ = godotenv.Load(".env.local")
	var env envConfig
	if err := envconfig.Process("FIODASH", &env); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(2)
	}

	versionArg := flag.Bool("version", false, "Displays the version information.")
	descriptionArg := flag.String("description", "", "The description of the export will be added to the .json report.")
	sourceArg := flag.String("source", env.Source, "URL of the results backend, an exported .json listing of test runs, a FIO .json output or a folder of them.")
	usernameArg := flag.String("username", env.Username, "User name for the results backend.")
	passwordArg := flag.String("password", env.Password, "Password for the results backend.")
	tokenArg := flag.String("token", env.Token, "Bearer token for the results backend. Takes precedence over user name and password.")
	insecureArg := flag.Bool("insecure", false, "Skip TLS certificate verification for the backend and the bucket endpoint.")
	timeoutArg := flag.Duration("timeout", env.Timeout, "Timeout of a single request to the backend.")
	retriesArg := flag.Int("retries", env.Retries, "How often a failed request to the backend is retried.")
	maxRecordsArg := flag.Int("max-records", 0, "Stop fetching after this many test runs. 0 fetches everything.")

	hostnamesArg := flag.StringSlice("hostnames", nil, "Only include these hostnames.")
	protocolsArg := flag.StringSlice("protocols", nil, "Only include these protocols.")
	driveTypesArg := flag.StringSlice("drive-types", nil, "Only include these drive types.")
	driveModelsArg := flag.StringSlice("drive-models", nil, "Only include these drive models.")
	blockSizesArg := flag.StringSlice("block-sizes", nil, "Only include these block sizes, e.g. 4k,1M.")
	patternsArg := flag.StringSlice("patterns", nil, "Only include these read/write patterns.")
	queueDepthsArg := flag.StringSlice("queue-depths", nil, "Only include these queue depths.")
	syncsArg := flag.StringSlice("syncs", nil, "Only include these sync settings.")
	directsArg := flag.StringSlice("directs", nil, "Only include these direct I/O settings.")
	numJobsArg := flag.StringSlice("num-jobs", nil, "Only include these job counts.")
	filtersArg := flag.String("filters", "", "Reads filters from a .yaml or .json file. Filter flags are added on top.")

	normalizationArg := flag.String("normalization", string(fiomark.MinMax), "Heatmap normalization: min-max, z-score or percentile.")
	patternArg := flag.String("pattern", "", "Restrict charts and heatmap to one read/write pattern.")
	groupByArg := flag.String("group-by", string(fiomark.GroupByPattern), "Group chart datasets by 'pattern' or 'series'.")
	allPercentilesArg := flag.Bool("all-percentiles", false, "Add p70 and p90 to the latency chart.")
	strictArg := flag.Bool("strict", false, "Drop test runs that fail validation instead of only counting them.")
	latestArg := flag.Bool("latest", false, "Only use the newest run of every test configuration.")
	localeArg := flag.String("locale", env.Locale, "Locale of the numbers printed to stdout.")

	csvArg := flag.String("csv", "", "Saves the dashboard data points as .csv file.")
	jsonArg := flag.String("json", "", "Saves the dashboard as .json file.")
	outputDirArg := flag.String("output-dir", "", "Publishes the export below this local folder instead of a bucket.")
	bucketNameArg := flag.String("bucket-name", env.BucketName, "The target bucket or folder the export is published to.")
	prefixArg := flag.String("prefix", "", "Key prefix of the published export. Default is a unique, time based prefix.")
	regionArg := flag.String("region", env.Region, "Sets the AWS region to use for the S3 bucket.")
	endpointArg := flag.String("endpoint", env.Endpoint, "Sets the S3 endpoint to use. Might be any URI.")
	createBucketArg := flag.Bool("create-bucket", false, "create new bucket(default false)")
	concurrencyArg := flag.Int("concurrency", 4, "Number of parallel uploads when publishing.")
	publishReportArg := flag.String("publish-report", "", "Publishes an existing .json export instead of building a new one.")

	importArg := flag.StringSlice("import", nil, "Uploads these FIO .json outputs to the backend and exits.")
	importHostnameArg := flag.String("import-hostname", "", "Hostname recorded for FIO outputs read from a file source.")
	importProtocolArg := flag.String("import-protocol", "", "Protocol recorded for FIO outputs read from a file source. Default is 'Local'.")
	importDriveTypeArg := flag.String("import-drive-type", "", "Drive type recorded for FIO outputs read from a file source.")
	importDriveModelArg := flag.String("import-drive-model", "", "Drive model recorded for FIO outputs read from a file source.")

	serveArg := flag.String("serve", env.Listen, "Runs the dashboard service on this address, e.g. ':8080'.")
	watchArg := flag.Bool("watch", false, "Rebuilds the export whenever the source file changes.")
	debounceArg := flag.Duration("debounce", 500*time.Millisecond, "Quiet period before a change triggers a rebuild in watch mode.")

	logPathArg := flag.String("log-path", "", "Specify the path of the log file. Default is 'currentDir'")
	logLevelArg := flag.String("log-level", env.LogLevel, "Log level: debug, info, warn or error.")
	logJSONArg := flag.Bool("log-json", false, "Writes log lines as JSON.")

	// parse the arguments and set all the global variables accordingly
	flag.Parse()

	showVersion = *versionArg
	if showVersion {
		return
	}
	csvFileName = *csvArg
	jsonFileName = *jsonArg
	publishReportFile = *publishReportArg
	createBucket = *createBucketArg
	listenAddr = *serveArg
	watchMode = *watchArg
	debounceDelay = *debounceArg
	locale = *localeArg
	importFiles = *importArg
	if *logPathArg == "" {
		logPath, _ = os.Getwd()
	} else {
		logPath = *logPathArg
	}
	setupLogger(*logLevelArg, *logJSONArg)

	filters := fiomark.FilterState{}
	if *filtersArg != "" {
		loaded, err := fiomark.LoadFilterFile(*filtersArg)
		if err != nil {
			logger.WithError(err).Fatal("invalid filter file")
		}
		filters = loaded
	}
	for category, values := range map[fiomark.FilterCategory][]string{
		fiomark.FilterHostnames:   *hostnamesArg,
		fiomark.FilterProtocols:   *protocolsArg,
		fiomark.FilterDriveTypes:  *driveTypesArg,
		fiomark.FilterDriveModels: *driveModelsArg,
		fiomark.FilterBlockSizes:  *blockSizesArg,
		fiomark.FilterPatterns:    *patternsArg,
		fiomark.FilterQueueDepths: *queueDepthsArg,
		fiomark.FilterSyncs:       *syncsArg,
		fiomark.FilterDirects:     *directsArg,
		fiomark.FilterNumJobs:     *numJobsArg,
	} {
		filters[category] = append(filters[category], values...)
	}

	normalization, err := fiomark.ParseNormalizationMethod(*normalizationArg)
	if err != nil {
		logger.WithError(err).Fatal("invalid normalization")
	}
	grouping, err := fiomark.ParseChartGrouping(*groupByArg)
	if err != nil {
		logger.WithError(err).Fatal("invalid grouping")
	}

	auth := fioapi.AuthContext{Username: *usernameArg, Password: *passwordArg, Token: *tokenArg}
	client, err = newClient(*sourceArg, *insecureArg, *timeoutArg, *retriesArg)
	if err != nil {
		logger.WithError(err).Fatal("invalid source")
	}
	if fileClient, ok := client.(*fioapi.FileClient); ok {
		fileClient.Import = fiomark.ImportMetadata{
			Hostname:   *importHostnameArg,
			Protocol:   *importProtocolArg,
			DriveType:  *importDriveTypeArg,
			DriveModel: *importDriveModelArg,
		}
	}

	bucketName := *bucketNameArg
	if bucketName == "" && *outputDirArg != "" {
		bucketName = "fio-dashboard"
	}
	store, err := newStore(*outputDirArg, bucketName, *regionArg, *endpointArg, *insecureArg)
	if err != nil {
		logger.WithError(err).Fatal("invalid publish target")
	}
	prefix := *prefixArg
	if prefix == "" {
		prefix = generatePrefix()
	}

	ctx = &fiomark.DashboardContext{
		Description: *descriptionArg,
		SourceName:  *sourceArg,
		Source: &fioapi.Source{
			Client:     client,
			Auth:       auth,
			MaxRecords: *maxRecordsArg,
			Strict:     *strictArg,
		},
		Filters: filters,
		Options: fiomark.DashboardOptions{
			Pattern:               *patternArg,
			GroupBy:               grouping,
			Normalization:         normalization,
			IncludeAllPercentiles: *allPercentilesArg,
			StrictValidation:      *strictArg,
			LatestOnly:            *latestArg,
		},
		Store:         store,
		BucketName:    bucketName,
		Prefix:        prefix,
		Concurrency:   *concurrencyArg,
		InfoLogger:    logger.WithField("component", "export"),
		WarningLogger: logger.WithField("component", "export"),
	}

	if err := ctx.Start(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
}

func displayVersion() {
	fmt.Printf("Git Commit Hash: %s\n", githash)
	fmt.Printf("UTC Build Time: %s\n", buildstamp)
}

func setupLogger(level string, asJSON bool) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	if asJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	file, err := os.OpenFile(filepath.Join(logPath, "fio-dashboard.log"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		logger.WithError(err).Warn("cannot open log file, logging to stderr only")
		return
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, file))
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func newClient(source string, insecure bool, timeout time.Duration, retries int) (fioapi.Client, error) {
	if !isURL(source) {
		if _, err := os.Stat(source); err != nil {
			return nil, errors.Wrapf(err, "source %s is neither a URL nor a readable file or folder", source)
		}
		return fioapi.NewFileClient(source), nil
	}
	httpClient, err := fioapi.NewHTTPClient(&fioapi.HTTPClientConfig{
		BaseURL:    source,
		UserAgent:  "fio-dashboard/" + githash,
		Insecure:   insecure,
		Timeout:    timeout,
		MaxRetries: retries,
	})
	if err != nil {
		return nil, err
	}
	httpClient.Logger = logger.WithField("component", "backend")
	return httpClient, nil
}

// an output folder wins over a bucket; without either nothing is published
func newStore(outputDir, bucketName, region, endpoint string, insecure bool) (fiomark.ArtifactStore, error) {
	if outputDir != "" {
		return fiomark.NewFsStore(&fiomark.FsStoreConfig{RootPath: outputDir}), nil
	}
	if bucketName == "" {
		return nil, nil
	}
	return fiomark.NewS3Store(context.Background(), &fiomark.S3StoreConfig{
		Region:   region,
		Endpoint: endpoint,
		Insecure: insecure,
	})
}

// generates a unique key prefix so that exports never overwrite each other
func generatePrefix() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), strings.Split(uuid.NewV4().String(), "-")[0])
}

func getTargetPath() string {
	return fmt.Sprintf("%s/%s", ctx.BucketName, ctx.Prefix)
}

func createExportBucket(runCtx context.Context) {
	if ctx.Store == nil {
		logger.Fatal("--create-bucket needs --bucket-name or --output-dir")
	}
	fmt.Print("\n--- SETUP --------------------------------------------------------------------------------------------------------------------\n\n")

	_, err := ctx.Store.CreateBucket(runCtx, ctx.BucketName)

	// if the error is because the bucket already exists, ignore the error
	if err != nil && !strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
		logger.WithError(err).Fatal("failed to create bucket")
	}
	fmt.Printf("Created target bucket %s\n\n", ctx.BucketName)
}

func runExport(runCtx context.Context) error {
	fmt.Print("\n--- DASHBOARD ---------------------------------------------------------------------------------------------------------------\n\n")

	dashboard, err := ctx.Refresh(runCtx)
	if err != nil {
		if category := fioapi.CategoryOf(err); category != fioapi.CategoryUnknown {
			return errors.Wrapf(err, "fetching from %s failed (%s)", ctx.SourceName, category)
		}
		return err
	}
	printDashboard(dashboard)

	// if the csv option is set, save the report as .csv
	if csvFileName != "" {
		csvReport, err := fiomark.ToCsv(ctx.Report)
		if err != nil {
			return errors.Wrap(err, "failed to create .csv output")
		}
		if err = os.WriteFile(csvFileName, csvReport, 0644); err != nil {
			return errors.Wrap(err, "failed to create .csv output")
		}
		fmt.Printf("CSV results were written to %s\n", csvFileName)
	}

	// if the json option is set, save the report as .json
	if jsonFileName != "" {
		jsonReport, err := fiomark.ToJson(ctx.Report)
		if err != nil {
			return errors.Wrap(err, "failed to create .json output")
		}
		if err = os.WriteFile(jsonFileName, jsonReport, 0644); err != nil {
			return errors.Wrap(err, "failed to create .json output")
		}
		fmt.Printf("JSON results were written to %s\n", jsonFileName)
	}

	if ctx.Store != nil {
		return publish(runCtx, ctx.Report)
	}
	return nil
}

func printDashboard(d *fiomark.Dashboard) {
	fmt.Printf("%d test runs, %d invalid, %d matching the filters\n\n", d.TotalRecords, d.InvalidRecords, d.MatchedRecords)
	if d.Empty {
		fmt.Printf("%s\n\n", d.Message)
		return
	}

	f := fiomark.NewFormatter(locale)
	fmt.Print("+------------------------------------------+------------+------------+--------------+--------------+--------------+\n")
	fmt.Print("| Series                                   | Block size | Pattern    |         IOPS |  Avg latency |    Bandwidth |\n")
	fmt.Print("+------------------------------------------+------------+------------+--------------+--------------+--------------+\n")
	for _, r := range ctx.Report.Records() {
		iops := r.DataPoint.IOPS
		fmt.Printf("| %-40.40s | %10s | %-10.10s | %12s | %12s | %12s |\n",
			r.Series.Key, r.DataPoint.BlockSize, r.DataPoint.Pattern,
			f.FormatIOPS(&iops), f.FormatLatency(r.DataPoint.AvgLatency), f.FormatBandwidth(r.DataPoint.Bandwidth))
	}
	fmt.Print("+------------------------------------------+------------+------------+--------------+--------------+--------------+\n\n")
}

func publish(runCtx context.Context, report fiomark.Report) error {
	artifacts, err := fiomark.BuildArtifacts(report)
	if err != nil {
		return err
	}

	fmt.Printf("Publishing %d files to %s\n", len(artifacts), getTargetPath())
	bar := progressbar.NewOptions(len(artifacts), progressbar.OptionSetRenderBlankState(true))
	err = ctx.Publish(runCtx, artifacts, func() { _ = bar.Add(1) })
	fmt.Print("\n\n")
	if err != nil {
		return err
	}
	if err := ctx.Verify(runCtx, artifacts); err != nil {
		return err
	}
	logger.WithField("target", getTargetPath()).Info("export published and verified")
	return nil
}

func publishReport(runCtx context.Context) {
	if ctx.Store == nil {
		logger.Fatal("--publish-report needs --bucket-name or --output-dir")
	}
	report, err := fiomark.FromJsonFile(publishReportFile)
	if err != nil {
		logger.WithError(err).Fatal("cannot read report")
	}
	if err := publish(runCtx, *report); err != nil {
		logger.WithError(err).Fatal("publishing failed")
	}
}

// importRuns uploads FIO outputs one by one. A failed file is logged and
// the remaining files are still uploaded.
func importRuns(runCtx context.Context) {
	if _, ok := client.(*fioapi.HTTPClient); !ok {
		logger.Fatal("--import needs a backend URL as --source")
	}
	auth := ctx.Source.(*fioapi.Source).Auth

	fmt.Print("\n--- IMPORT ------------------------------------------------------------------------------------------------------------------\n\n")
	bar := progressbar.NewOptions(len(importFiles), progressbar.OptionSetRenderBlankState(true))
	failed := 0
	for _, name := range importFiles {
		log := logger.WithField("file", name)
		data, err := os.ReadFile(name)
		if err == nil {
			var result *fioapi.ImportResult
			if result, err = client.ImportFIO(runCtx, auth, name, data); err == nil {
				log = log.WithField("test_run_id", result.TestRunID)
			}
		}
		_ = bar.Add(1)
		if err != nil {
			failed++
			log.WithError(err).Error("import failed")
			continue
		}
		log.Info("imported")
	}
	fmt.Print("\n\n")
	if failed > 0 {
		logger.Fatalf("%d of %d imports failed", failed, len(importFiles))
	}
}

func serve(runCtx context.Context) {
	metrics := fioserver.NewMetrics()
	if httpClient, ok := client.(*fioapi.HTTPClient); ok {
		httpClient.Observer = metrics.ObserveUpstream
	}
	source := ctx.Source.(*fioapi.Source)

	server, err := fioserver.New(fioserver.Config{
		Client:     client,
		Auth:       source.Auth,
		Defaults:   ctx.Options,
		MaxRecords: source.MaxRecords,
		Logger:     logger.WithField("component", "server"),
		Metrics:    metrics,
	})
	if err != nil {
		logger.WithError(err).Fatal("cannot start the dashboard service")
	}
	if err := server.Run(runCtx, listenAddr); err != nil {
		logger.WithError(err).Fatal("dashboard service failed")
	}
}

// watch rebuilds the export whenever the source file is written, or any
// .json file when the source is a folder. Bursts of writes collapse into one
// rebuild.
func watch(runCtx context.Context) {
	fileClient, ok := client.(*fioapi.FileClient)
	if !ok {
		logger.Fatal("--watch needs a file as --source")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err).Fatal("cannot watch the source file")
	}
	defer watcher.Close()

	// editors replace files, so the folder is watched rather than the file
	target, _ := filepath.Abs(fileClient.Path())
	dir := filepath.Dir(target)
	info, err := os.Stat(target)
	isDir := err == nil && info.IsDir()
	if isDir {
		dir = target
	}
	if err := watcher.Add(dir); err != nil {
		logger.WithError(err).Fatal("cannot watch the source file")
	}

	// a slow rebuild must not overlap with the next one
	var running sync.Mutex
	rebuild := func() {
		running.Lock()
		defer running.Unlock()
		if err := runExport(runCtx); err != nil {
			logger.WithError(err).Error("export failed")
		}
	}
	rebuild()

	debouncer := fiomark.NewDebouncer(debounceDelay)
	defer debouncer.Stop()
	logger.WithField("file", target).Info("watching for changes")

	for {
		select {
		case <-runCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !relevant(event, target, isDir) {
				continue
			}
			debouncer.Trigger(rebuild)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("watch error")
		}
	}
}

func relevant(event fsnotify.Event, target string, isDir bool) bool {
	if isDir {
		// removing an output changes the folder listing too
		return strings.EqualFold(filepath.Ext(event.Name), ".json") &&
			(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename))
	}
	return event.Name == target && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create))
}
