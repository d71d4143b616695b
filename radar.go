package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/hb9tf/wifiradar/buffer"
	"github.com/hb9tf/wifiradar/config"
	"github.com/hb9tf/wifiradar/export"
	"github.com/hb9tf/wifiradar/filter"
	"github.com/hb9tf/wifiradar/heatmap"
	"github.com/hb9tf/wifiradar/link"
	"github.com/hb9tf/wifiradar/pipeline"
	"github.com/hb9tf/wifiradar/publish"
	"github.com/hb9tf/wifiradar/scoring"
	"github.com/hb9tf/wifiradar/server"
	"github.com/hb9tf/wifiradar/spatial"
	"github.com/hb9tf/wifiradar/synthetic"
	"github.com/hb9tf/wifiradar/wifi"

	// Blind import support for sqlite3 used by the sqlite export.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	configFile = flag.String("config", "", "Path of a JSON or YAML config file. Defaults are used when empty.")
	identifier = flag.String("id", "", "unique identifier of this run (defaults to a random UUID)")
	mode       = flag.String("mode", "radar", "What to run (one of: radar, agent). An agent captures and forwards observations to a radar server.")
	source     = flag.String("source", "", "Observation source, overrides capture.source (one of: pcap, live, synthetic, http)")
	output     = flag.String("output", "", "Comma separated snapshot export mechanisms (any of: csv, sqlite, mysql, redis)")

	// Capture
	pcapFile      = flag.String("pcapFile", "", "pcap file with radiotap frames to replay, overrides capture.pcap_file.")
	iface         = flag.String("iface", "", "Monitor mode interface for live capture, overrides capture.interface.")
	replaySpeed   = flag.Float64("replaySpeed", -1, "pcap replay speed factor, 0 replays as fast as possible. Overrides capture.replay_speed.")
	synthMode     = flag.String("synthMode", "alternating", "Synthetic traffic (one of: static, motion, alternating).")
	synthSeed     = flag.Uint64("synthSeed", 1, "Seed of the synthetic traffic generator.")
	synthInterval = flag.Duration("synthInterval", synthetic.DefaultInterval, "Time between synthetic observations.")

	// Server
	listen   = flag.String("listen", "", "Address to serve the HTTP API on, overrides visualization.listen. Empty in agent mode disables it.")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")

	// Heatmap images
	liveImage     = flag.String("liveImage", "", "Rewrite this image (.png or .jpg) with the latest heatmap every visualization.update_interval.")
	snapshotImage = flag.String("snapshotImage", "", "Save the final heatmap to this image (.png or .jpg) on exit.")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/wifiradar", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "wifiradar", "Name of the DB to use.")

	// Redis
	redisAddr     = flag.String("redisAddr", "localhost:6379", "Redis server address.")
	redisPassword = flag.String("redisPassword", "", "Redis password.")
	redisDB       = flag.Int("redisDB", 0, "Redis database number.")
	redisTTL      = flag.Duration("redisTTL", 0, "Expiry of the latest snapshot key, 0 keeps it.")

	// Radar server, for agents.
	radarServer      = flag.String("radarServer", "http://localhost:8080", "URL scheme, address and port of the radar server agents forward to.")
	radarServerBatch = flag.Int("radarServerBatch", 0, "Defines how many observations should be sent to the server at once.")
)

func loadConfig() config.Config {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			glog.Exitf("unable to load config: %s", err)
		}
	}
	if *source != "" {
		cfg.Capture.Source = *source
	}
	if *pcapFile != "" {
		cfg.Capture.PcapFile = *pcapFile
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}
	if *replaySpeed >= 0 {
		cfg.Capture.ReplaySpeed = *replaySpeed
	}
	if *listen != "" {
		cfg.Visualization.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		glog.Exitf("%s", err)
	}
	return cfg
}

func buildFilters(cfg config.Config) []filter.Filterer {
	origins, err := filter.NewFilterOrigin(cfg.Filtering.BSSIDFilter)
	if err != nil {
		glog.Exitf("%s", err)
	}
	return []filter.Filterer{
		origins,
		&filter.FilterSignal{Low: cfg.Filtering.MinSignal, High: cfg.Filtering.MaxSignal},
	}
}

// buildSource returns nil for the http source: observations then only
// arrive through the collect endpoint.
func buildSource(cfg config.Config) link.Source {
	var spectrum *link.Spectrum
	if cfg.Features.FFT {
		spectrum = link.NewSpectrum(cfg.Capture.SpectrumWindow)
	}
	kinds, err := wifi.ParseFrameKinds(cfg.Filtering.PacketTypes)
	if err != nil {
		glog.Exitf("%s", err)
	}
	decoder := wifi.Decoder{Kinds: kinds, Spectrum: spectrum}

	switch strings.ToLower(cfg.Capture.Source) {
	case wifi.FileSourceName:
		if cfg.Capture.PcapFile == "" {
			glog.Exit("the pcap source needs -pcapFile or capture.pcap_file")
		}
		return &wifi.File{Path: cfg.Capture.PcapFile, Speed: cfg.Capture.ReplaySpeed, Decoder: decoder}
	case wifi.LiveSourceName:
		glog.Infof("capturing on %s, expecting channel %d (%.1f GHz)\n", cfg.Capture.Interface, cfg.Capture.Channel, cfg.Capture.FrequencyGHz)
		return &wifi.Live{Interface: cfg.Capture.Interface, Decoder: decoder}
	case synthetic.SourceName:
		m, err := synthetic.ParseMode(*synthMode)
		if err != nil {
			glog.Exitf("%s", err)
		}
		origin, _ := link.ParseAddr("aa:bb:cc:dd:ee:ff")
		return &synthetic.Source{
			Generator: synthetic.NewGenerator(origin, synthetic.DefaultBaseSignal, *synthSeed, spectrum),
			Mode:      m,
			Interval:  *synthInterval,
		}
	case server.SourceName:
		return nil
	default:
		glog.Exitf("%q is not a supported source, pick one of: pcap, live, synthetic, http", cfg.Capture.Source)
	}
	return nil
}

func buildExporters(ctx context.Context) []export.Exporter {
	var exporters []export.Exporter
	for _, name := range strings.Split(*output, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "csv":
			exporters = append(exporters, &export.CSV{})
		case "sqlite":
			db, err := sql.Open("sqlite3", *sqliteFile)
			if err != nil {
				glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
			}
			exporters = append(exporters, &export.SQL{DB: db, Dialect: export.SQLite})
		case "mysql":
			mcfg, err := export.MySQLConfig(*mysqlServer, *mysqlUser, *mysqlPasswordFile, *mysqlDBName)
			if err != nil {
				glog.Exitf("%s", err)
			}
			db, err := export.OpenMySQL(mcfg)
			if err != nil {
				glog.Exitf("%s", err)
			}
			exporters = append(exporters, &export.SQL{DB: db, Dialect: export.MySQL})
		case "redis":
			r, err := export.NewRedis(ctx, *redisAddr, *redisPassword, *redisDB)
			if err != nil {
				glog.Exitf("%s", err)
			}
			r.TTL = *redisTTL
			exporters = append(exporters, r)
		default:
			glog.Exitf("%q is not a supported export method, pick any of: csv, sqlite, mysql, redis", name)
		}
	}
	return exporters
}

// capture runs src and feeds every observation passing filters to sink.
// sink is closed once src is done.
func capture(ctx context.Context, src link.Source, filters []filter.Filterer, sink chan<- link.Observation) {
	raw := make(chan link.Observation, 1000)
	go func() {
		defer close(raw)
		if err := src.Capture(ctx, raw); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("%s capture stopped: %s", src.Name(), err)
		}
	}()
	filter.Filter(raw, sink, filters)
	close(sink)
}

func serve(srv *http.Server) {
	var err error
	if *certFile != "" || *keyFile != "" {
		err = srv.ListenAndServeTLS(*certFile, *keyFile)
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Exitf("HTTP server on %s failed: %s", srv.Addr, err)
	}
}

func runAgent(ctx context.Context, cfg config.Config) {
	src := buildSource(cfg)
	if src == nil {
		glog.Exit("an agent needs a capture source, http is only valid for the radar")
	}
	observations := make(chan link.Observation, 1000)
	go capture(ctx, src, buildFilters(cfg), observations)

	f := &export.Forwarder{Server: *radarServer, BatchSize: *radarServerBatch}
	glog.Infof("forwarding %s observations to %s\n", src.Name(), *radarServer)
	if err := f.Forward(ctx, observations); err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("forwarding stopped: %s", err)
	}
}

func runRadar(ctx context.Context, cfg config.Config, runID string) {
	buf, err := buffer.New(cfg.Buffer.Capacity)
	if err != nil {
		glog.Exitf("%s", err)
	}
	scorer, err := scoring.New(cfg.ScoringConfig())
	if err != nil {
		glog.Exitf("%s", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		glog.Exitf("%s", err)
	}
	pub := publish.NewPublisher(runID)
	acc, err := spatial.New(cfg.SpatialConfig(), policy, pub)
	if err != nil {
		glog.Exitf("%s", err)
	}
	p, err := pipeline.New(buf, scorer, acc, cfg.BinDuration())
	if err != nil {
		glog.Exitf("%s", err)
	}
	filters := buildFilters(cfg)

	if src := buildSource(cfg); src != nil {
		observations := make(chan link.Observation, 1000)
		go capture(ctx, src, filters, observations)
		go buf.Fill(src.Name(), observations)
	}

	var wg sync.WaitGroup
	for _, e := range buildExporters(ctx) {
		snapshots, unsubscribe := pub.Subscribe(100)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			if err := e.Write(ctx, snapshots); err != nil && !errors.Is(err, context.Canceled) {
				glog.Errorf("export stopped: %s", err)
			}
		}()
	}

	if *liveImage != "" {
		go writeLiveImage(ctx, pub, cfg)
	}

	srv := &http.Server{
		Addr: cfg.Visualization.Listen,
		Handler: server.New(pub, server.Options{
			Collector: buf,
			Filters:   filters,
			Resetter:  p,
			CellSize:  cfg.Visualization.CellSize,
		}).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go serve(srv)

	glog.Infof("radar %s running: %dx%d grid, %s bins\n", runID, cfg.SpatialConfig().Rows, cfg.SpatialConfig().Cols, cfg.BinDuration())
	p.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Warningf("HTTP server shutdown: %s\n", err)
	}
	pub.Close()
	wg.Wait()

	if *snapshotImage != "" {
		saveImage(pub, cfg, *snapshotImage)
	}
}

func saveImage(pub *publish.Publisher, cfg config.Config, path string) {
	snap, ok := pub.Latest()
	if !ok {
		return
	}
	img := heatmap.Render(snap, heatmap.Options{CellSize: cfg.Visualization.CellSize, Legend: true})
	if err := heatmap.Save(path, img); err != nil {
		glog.Warningf("unable to save heatmap: %s\n", err)
		return
	}
	glog.V(1).Infof("heatmap of cycle %d written to %s", snap.Cycle, path)
}

func writeLiveImage(ctx context.Context, pub *publish.Publisher, cfg config.Config) {
	ticker := time.NewTicker(cfg.UpdateInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveImage(pub, cfg, *liveImage)
		}
	}
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	if *identifier == "" {
		*identifier = uuid.NewString()
	}
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch strings.ToLower(*mode) {
	case "radar":
		runRadar(ctx, cfg, *identifier)
	case "agent":
		runAgent(ctx, cfg)
	default:
		glog.Exitf("%q is not a supported mode, pick one of: radar, agent", *mode)
	}
}
