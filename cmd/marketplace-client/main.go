package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/floroz/auction-client/internal/adapters/api"
	"github.com/floroz/auction-client/internal/adapters/directory"
	streams "github.com/floroz/auction-client/internal/adapters/events"
	"github.com/floroz/auction-client/internal/config"
	"github.com/floroz/auction-client/internal/domain/views"
	"github.com/floroz/auction-client/internal/marketplace"
	"github.com/floroz/auction-client/pkg/auth"
	"github.com/floroz/auction-client/pkg/events"
	"github.com/floroz/auction-client/pkg/metrics"
)

type streamSource interface {
	Run(ctx context.Context) error
}

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	pflag.Int64Var(&cfg.UserID, "user-id", cfg.UserID, "current user id (overrides the token subject)")
	pflag.StringVar(&cfg.StreamDriver, "stream", cfg.StreamDriver, "stream driver: rabbitmq, nats, redis or websocket")
	pflag.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "marketplace API base URL")
	pflag.StringVar(&cfg.Queue, "queue", cfg.Queue, "RabbitMQ queue name (empty for an exclusive queue)")
	bidAuction := pflag.Int64("bid-auction", 0, "place one bid on this auction after loading")
	bidAmount := pflag.String("bid-amount", "", "amount for --bid-auction")
	pflag.Parse()

	verifier, err := auth.NewVerifier([]byte(cfg.PublicKey))
	if err != nil {
		logger.Error("Failed to create token verifier", "error", err)
		os.Exit(1)
	}
	if cfg.Token != "" {
		session, sessErr := verifier.Session(cfg.Token)
		if sessErr != nil {
			logger.Error("Invalid session token", "error", sessErr)
			os.Exit(1)
		}
		if cfg.UserID == 0 {
			cfg.UserID = session.UserID
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down client...")
		cancel()
	}()

	// 1. Metrics
	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.StatsDAddr != "" {
		statsd, statsErr := metrics.NewStatsD(cfg.StatsDAddr, logger, "service", "marketplace-client")
		if statsErr != nil {
			logger.Error("Failed to create statsd client", "error", statsErr)
			os.Exit(1)
		}
		defer statsd.Close()
		recorder = statsd
	}

	// 2. Backend API
	client := api.NewClient(cfg.APIURL, cfg.Inventory(), cfg.Token, cfg.CallTimeout, logger)
	users := directory.NewCachedDirectory(client, cfg.DirectorySize, cfg.DirectoryTTL, logger)

	deps := marketplace.Dependencies{
		Snapshots: client,
		Inventory: client,
		Actions:   client,
		History:   client,
		Directory: users,
		Metrics:   recorder,
		Logger:    logger,
	}

	// 3. RabbitMQ carries create-auction commands and, by default, the stream
	var amqpConn *amqp.Connection
	if conn, dialErr := amqp.Dial(cfg.RabbitMQURL); dialErr != nil {
		if cfg.StreamDriver == config.DriverRabbitMQ {
			logger.Error("Failed to connect to RabbitMQ", "error", dialErr)
			os.Exit(1)
		}
		logger.Warn("RabbitMQ unavailable, auction creation disabled", "error", dialErr)
	} else {
		amqpConn = conn
		defer amqpConn.Close()
		logger.Info("RabbitMQ Connected")
	}

	var relay *events.OutboxRelay
	if amqpConn != nil {
		publisher, pubErr := events.NewRabbitMQPublisher(amqpConn, cfg.Exchange)
		if pubErr != nil {
			logger.Error("Failed to create publisher", "error", pubErr)
			os.Exit(1)
		}
		defer publisher.Close()

		outbox := events.NewOutbox(cfg.OutboxCapacity)
		relay = events.NewOutboxRelay(outbox, publisher, cfg.OutboxBatch, cfg.OutboxInterval, cfg.Exchange, logger)
		deps.Commands = outbox
	}

	market := marketplace.New(marketplace.Config{
		UserID:         cfg.UserID,
		DedupWindow:    cfg.DedupWindow,
		PrefetchBuyNow: cfg.PrefetchBuyNow,
		CallTimeout:    cfg.CallTimeout,
	}, deps)
	defer market.Close()

	// 4. Stream
	source, closeSource, err := newSource(cfg, amqpConn, market.Ingest, logger)
	if err != nil {
		logger.Error("Failed to create stream source", "driver", cfg.StreamDriver, "error", err)
		os.Exit(1)
	}
	defer closeSource()

	sub := market.Subscribe()
	defer sub.Dispose()

	// Start the stream before loading so events racing the snapshot are kept
	go func() {
		if runErr := source.Run(ctx); runErr != nil && ctx.Err() == nil {
			logger.Error("Stream stopped", "driver", cfg.StreamDriver, "error", runErr)
			cancel()
		}
	}()
	if relay != nil {
		go func() {
			_ = relay.Run(ctx)
		}()
	}

	// 5. Initial load. Failures keep whatever state we have and are logged.
	if err := market.LoadSnapshot(ctx); err != nil {
		logger.Error("Failed to load snapshot", "error", err)
	}
	if err := market.LoadInventory(ctx); err != nil {
		logger.Error("Failed to load inventory", "error", err)
	}

	if *bidAuction > 0 {
		placeBid(ctx, market, *bidAuction, *bidAmount, logger)
	}

	logger.Info("Marketplace client running", "user_id", cfg.UserID, "driver", cfg.StreamDriver)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Client stopped")
			return
		case change, ok := <-sub.Changes():
			if !ok {
				return
			}
			logChange(market, change, logger)
		}
	}
}

func newSource(cfg *config.Config, amqpConn *amqp.Connection, handler streams.Handler, logger *slog.Logger) (streamSource, func(), error) {
	switch cfg.StreamDriver {
	case config.DriverNATS:
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("NATS Connected")
		return streams.NewNATSSource(nc, cfg.NATSPrefix, handler, logger), nc.Close, nil
	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return streams.NewRedisSource(rdb, handler, logger), func() { _ = rdb.Close() }, nil
	case config.DriverWebSocket:
		return streams.NewWebSocketSource(cfg.WebSocketURL, cfg.Token, handler, logger), func() {}, nil
	default:
		return streams.NewRabbitMQSource(amqpConn, streams.RabbitMQConfig{
			Exchange: cfg.Exchange,
			Queue:    cfg.Queue,
		}, handler, logger), func() {}, nil
	}
}

func placeBid(ctx context.Context, market *marketplace.Marketplace, auctionID int64, raw string, logger *slog.Logger) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		logger.Error("Invalid bid amount", "amount", raw, "error", err)
		return
	}
	action, err := market.SubmitBid(ctx, auctionID, amount)
	if err != nil {
		logger.Error("Failed to submit bid", "auction_id", auctionID, "error", err)
		return
	}
	logger.Info("Bid submitted", "action_id", action.ID, "auction_id", auctionID, "amount", amount.String())
}

func logChange(market *marketplace.Marketplace, change marketplace.Change, logger *slog.Logger) {
	switch change.Kind {
	case marketplace.ChangeActionFailed:
		logger.Warn("Action failed", "action_id", change.ActionID, "auction_id", change.AuctionID, "error", change.Err)
	case marketplace.ChangeAuction:
		if a, ok := market.Auction(change.AuctionID); ok {
			logger.Info("Auction changed",
				"auction_id", a.ID,
				"title", a.Title,
				"status", a.Status,
				"current_price", a.CurrentPrice.String(),
				"bids", a.BidsCount,
			)
		}
	default:
		logger.Info("State changed",
			"kind", change.Kind,
			"open_auctions", len(market.OpenAuctions(views.Filter{})),
			"active_bids", len(market.ActiveBids()),
			"purchased", len(market.PurchasedHistory()),
			"sold", len(market.SoldHistory()),
		)
	}
}
