package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/darbak/internal/config"
	"github.com/example/darbak/internal/directory"
	"github.com/example/darbak/internal/lifecycle"
	"github.com/example/darbak/internal/logging"
	"github.com/example/darbak/internal/models"
	"github.com/example/darbak/internal/notify"
	"github.com/example/darbak/internal/storage"
)

var (
	cmdsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "darbak_consumer_commands_consumed_total",
		Help: "Total lifecycle commands consumed",
	})
	cmdsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "darbak_consumer_commands_invalid_total",
		Help: "Total commands that failed to parse",
	})
	cmdsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "darbak_consumer_commands_applied_total",
		Help: "Total commands applied successfully",
	})
	cmdsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "darbak_consumer_commands_rejected_total",
		Help: "Total commands rejected by lifecycle rules",
	})
	cmdsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "darbak_consumer_commands_failed_total",
		Help: "Total commands that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(cmdsConsumed, cmdsInvalid, cmdsApplied, cmdsRejected, cmdsFailed)
}

// command is the inbound message shape on the commands topic. Chat
// front-ends publish these instead of calling the HTTP API directly.
type command struct {
	Type        string `json:"type"`
	ClientID    int64  `json:"client_id,omitempty"`
	CaptainID   int64  `json:"captain_id,omitempty"`
	MatchID     int64  `json:"match_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	Accept      bool   `json:"accept,omitempty"`
	Stars       int    `json:"stars,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Note        string `json:"note,omitempty"`
}

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var (
		dir   directory.Directory
		store storage.MatchStore
	)
	if cfg.PGDSN != "" {
		db, err := storage.OpenPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		dir = directory.NewPostgresDirectory(db)
		store = storage.NewPostgresStore(db)
	} else {
		logger.Warn("PG_DSN unset, using in-memory stores")
		mem := directory.NewMemory()
		dir = mem
		store = storage.NewMemoryStore(mem)
	}

	engine := &lifecycle.Engine{
		Store:    store,
		Dir:      dir,
		Notifier: &notify.LogNotifier{Logger: logger},
		Logger:   logger,
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", brokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Error("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		cmdsConsumed.Inc()

		var cmd command
		if err := json.Unmarshal(m.Value, &cmd); err != nil {
			cmdsInvalid.Inc()
			logger.Warn("invalid command", "error", err)
			continue
		}

		if err := applyWithRetry(ctx, engine, cmd, 3, 200*time.Millisecond); err != nil {
			if permanent(err) {
				cmdsRejected.Inc()
				logger.Warn("command rejected", "type", cmd.Type, "match_id", cmd.MatchID, "error", err)
			} else {
				cmdsFailed.Inc()
				logger.Error("command failed", "type", cmd.Type, "match_id", cmd.MatchID, "error", err)
			}
			continue
		}
		cmdsApplied.Inc()
	}
}

// lifecycleApplier is the subset of engine operations the consumer drives.
type lifecycleApplier interface {
	CreateRequest(ctx context.Context, clientID, captainID int64, destination string) (int64, error)
	CaptainRespond(ctx context.Context, matchID int64, accept bool) (*models.Match, error)
	ClientConfirm(ctx context.Context, matchID int64) (*models.Match, error)
	ClientCancel(ctx context.Context, matchID int64) (*models.Match, error)
	CompleteTrip(ctx context.Context, matchID int64) (*models.Match, error)
	Rate(ctx context.Context, matchID int64, stars int, comment, note string) (models.RatingSummary, error)
}

func apply(ctx context.Context, eng lifecycleApplier, cmd command) error {
	switch cmd.Type {
	case "request_create":
		_, err := eng.CreateRequest(ctx, cmd.ClientID, cmd.CaptainID, cmd.Destination)
		return err
	case "captain_respond":
		_, err := eng.CaptainRespond(ctx, cmd.MatchID, cmd.Accept)
		return err
	case "client_confirm":
		_, err := eng.ClientConfirm(ctx, cmd.MatchID)
		return err
	case "client_cancel":
		_, err := eng.ClientCancel(ctx, cmd.MatchID)
		return err
	case "trip_complete":
		_, err := eng.CompleteTrip(ctx, cmd.MatchID)
		return err
	case "rate":
		_, err := eng.Rate(ctx, cmd.MatchID, cmd.Stars, cmd.Comment, cmd.Note)
		return err
	default:
		return errUnknownCommand
	}
}

var errUnknownCommand = errors.New("unknown command type")

// permanent reports whether retrying cannot help. Lifecycle rule rejections
// stay rejected; only infrastructure errors are worth another attempt.
func permanent(err error) bool {
	return errors.Is(err, errUnknownCommand) ||
		errors.Is(err, storage.ErrAlreadyPending) ||
		errors.Is(err, storage.ErrStateConflict) ||
		errors.Is(err, storage.ErrMatchNotFound) ||
		errors.Is(err, directory.ErrNotFound) ||
		errors.Is(err, lifecycle.ErrInvalidStars) ||
		errors.Is(err, lifecycle.ErrWrongRole) ||
		errors.Is(err, lifecycle.ErrCaptainUnavailable)
}

func applyWithRetry(ctx context.Context, eng lifecycleApplier, cmd command, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = apply(ctx, eng, cmd)
		if err == nil || permanent(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
