package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type JournalCfg struct {
	Enabled    bool
	Brokers    string
	Topic      string
	H3Res      int
	Queue      int
	HeatWindow time.Duration
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	MetricsEnabled bool
	SessionID      string

	StoreDriver    string
	RedisAddr      string
	StoreOpTimeout time.Duration
	StoreCacheSize int

	StartupLayers []string
	NetworkLayer  string
	SnapTolerance float64

	BufferDistance    float64
	BufferSegments    int
	RouteFitFactor    float64
	IdentifyTolerance float64
	FoldCase          bool
	ExtentPad         float64

	ExportDir  string
	ViewWidth  float64
	ViewHeight float64
	EventQueue int

	Journal JournalCfg
}

func FromEnv() Config {
	driver := strings.ToLower(getenv("STORE_DRIVER", "memory"))
	if driver != "redis" {
		driver = "memory"
	}
	res := getint("JOURNAL_H3_RES", 9)
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		SessionID:      getenv("SESSION_ID", ""),

		StoreDriver:    driver,
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		StoreOpTimeout: getduration("STORE_OP_TIMEOUT", 2*time.Second),
		StoreCacheSize: getint("STORE_CACHE_SIZE", 4096),

		StartupLayers: parseList(getenv("STARTUP_LAYERS", "")),
		NetworkLayer:  getenv("NETWORK_LAYER", ""),
		SnapTolerance: getfloat("SNAP_TOLERANCE", 50),

		BufferDistance:    getfloat("BUFFER_DISTANCE", 500),
		BufferSegments:    getint("BUFFER_SEGMENTS", 32),
		RouteFitFactor:    getfloat("ROUTE_FIT_FACTOR", 1.2),
		IdentifyTolerance: getfloat("IDENTIFY_TOLERANCE", 1),
		FoldCase:          getbool("SEARCH_FOLD_CASE", true),
		ExtentPad:         getfloat("EXTENT_PAD", 50),

		ExportDir:  getenv("EXPORT_DIR", "."),
		ViewWidth:  getfloat("VIEW_WIDTH", 1024),
		ViewHeight: getfloat("VIEW_HEIGHT", 768),
		EventQueue: getint("EVENT_QUEUE", 64),

		Journal: JournalCfg{
			Enabled:    getbool("JOURNAL_ENABLED", false),
			Brokers:    getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:      getenv("KAFKA_TOPIC", "map-session-activity"),
			H3Res:      res,
			Queue:      getint("JOURNAL_QUEUE", 1024),
			HeatWindow: getduration("JOURNAL_HEAT_HALF_LIFE", time.Minute),
		},
	}
}

// BrokerList splits the comma separated broker list.
func (j JournalCfg) BrokerList() []string { return parseList(j.Brokers) }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a.geojson, b.geojson" into a list, dropping blanks
func parseList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
