package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/contracts"
	"github.com/rony4d/go-ftso-provider/datamanager"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/ledger/pgstore"
	"github.com/rony4d/go-ftso-provider/pricefeed"
	"github.com/rony4d/go-ftso-provider/provider"
	"github.com/rony4d/go-ftso-provider/registry"
	"github.com/rony4d/go-ftso-provider/rewards"
)

// Node is a running provider: the indexer connection, the HTTP API and the
// optional background scheduler.
type Node struct {
	cfg       Config
	log       *logrus.Logger
	store     *pgstore.Store
	server    *provider.Server
	scheduler *provider.Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode connects to the indexer database and wires every component.
func NewNode(ctx context.Context, cfg Config, log *logrus.Logger) (*Node, error) {
	store, err := pgstore.Open(ctx, cfg.Indexer.DB, log)
	if err != nil {
		return nil, err
	}
	if cfg.Indexer.InitSchema {
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	node, err := newNode(cfg, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	node.store = store
	return node, nil
}

func newNode(cfg Config, store ledger.Store, log *logrus.Logger) (*Node, error) {
	codec, err := contracts.NewCodec()
	if err != nil {
		return nil, err
	}
	client := ledger.NewIndexerClient(store, codec, cfg.Rules, log)
	epochs, err := registry.New(cfg.Registry, client, cfg.Rules.Epochs, log)
	if err != nil {
		return nil, err
	}
	data := datamanager.New(client, epochs, cfg.Rules, log)
	claims := rewards.NewRewardEpochCalculator(data, epochs, cfg.Rules, cfg.Provider.RewardParallelism, log)
	source, err := pricefeed.New(cfg.PriceFeed, log)
	if err != nil {
		return nil, err
	}
	service, err := provider.NewService(cfg.Provider, cfg.Rules, epochs, data, claims, source, log)
	if err != nil {
		return nil, err
	}

	node := &Node{
		cfg:    cfg,
		log:    log,
		server: provider.NewServer(cfg.Server, provider.NewHandler(service, cfg.Rules.Protocol.ProtocolID, log), log),
	}
	if cfg.Scheduler.Enabled {
		node.scheduler = provider.NewScheduler(cfg.Scheduler.SchedulerConfig, service, epochs, cfg.Rules, log)
	}
	log.WithFields(logrus.Fields{
		"network":   cfg.Rules.Name,
		"protocol":  cfg.Rules.Protocol.ProtocolID,
		"prices":    source.Name(),
		"scheduler": cfg.Scheduler.Enabled,
	}).Info("Provider configured")
	return node, nil
}

// Start starts the API and the scheduler.
func (n *Node) Start() {
	n.server.Start()
	if n.scheduler == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			n.log.WithError(err).Error("Scheduler stopped")
		}
	}()
}

// Stop stops the scheduler, then the API, then closes the database.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	err := n.server.Stop()
	if n.store != nil {
		if cerr := n.store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close indexer database: %w", cerr)
		}
	}
	return err
}
