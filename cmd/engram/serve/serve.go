// Package servecmder provides the serve command that wires the ports,
// builds the engine, and runs the API and MCP servers.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/api"
	"github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/cache"
	cacheinmemory "github.com/papercomputeco/engram/pkg/cache/inmemory"
	cacheristretto "github.com/papercomputeco/engram/pkg/cache/ristretto"
	"github.com/papercomputeco/engram/pkg/clock"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/conflict"
	embeddingutils "github.com/papercomputeco/engram/pkg/embeddings/utils"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	eventkafka "github.com/papercomputeco/engram/pkg/eventstream/kafka"
	eventnop "github.com/papercomputeco/engram/pkg/eventstream/nop"
	extractutils "github.com/papercomputeco/engram/pkg/extract/utils"
	graphutils "github.com/papercomputeco/engram/pkg/graph/utils"
	locallock "github.com/papercomputeco/engram/pkg/lock/local"
	"github.com/papercomputeco/engram/pkg/logger"
	vectorutils "github.com/papercomputeco/engram/pkg/vector/utils"
)

type ServeCommander struct {
	listen    string
	configDir string
	debug     bool
	logger    *zap.Logger
}

const serveLongDesc string = `Run the engram memory server.

Serves the REST API and mounts the MCP server at /mcp. Backends are
chosen by configuration: vector_store.provider (qdrant, sqlite, inmemory),
graph_store.provider (sqlite, postgres, inmemory), events.provider
(kafka, nop), cache.provider (ristretto, inmemory).`

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engram memory server",
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address for the API server to listen on (overrides config)")

	return cmd
}

func (c *ServeCommander) run() error {
	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}
	if c.listen != "" {
		v.Set("api.listen", c.listen)
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithJSON(v.GetBool("api.log_json")),
	)
	defer c.logger.Sync() //nolint:errcheck // stdout sync

	ctx := context.Background()

	eng, cleanup, err := c.buildEngine(ctx, v)
	if err != nil {
		return err
	}
	defer cleanup()

	mcpServer, err := mcp.NewServer(mcp.Config{
		Engine: eng,
		Logger: c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr: v.GetString("api.listen"),
	}, eng, mcpServer, c.logger)

	eng.StartCompensation()
	eng.StartSweeper()

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		if err := apiServer.Shutdown(); err != nil {
			c.logger.Warn("api shutdown failed", zap.Error(err))
		}
		eng.Close()
		return nil
	}
}

// buildEngine constructs every port from configuration and probes
// capabilities. The returned cleanup closes everything in reverse order.
func (c *ServeCommander) buildEngine(ctx context.Context, v *viper.Viper) (*engine.Engine, func(), error) {
	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: v.GetString("embedding.provider"),
		TargetURL:    v.GetString("embedding.target"),
		Model:        v.GetString("embedding.model"),
		Dimensions:   v.GetUint("embedding.dimensions"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedder: %w", err)
	}

	extractor, err := extractutils.NewExtractor(&extractutils.NewExtractorOpts{
		ProviderType: v.GetString("extractor.provider"),
		TargetURL:    v.GetString("extractor.target"),
		Model:        v.GetString("extractor.model"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating extractor: %w", err)
	}

	vectorDriver, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: v.GetString("vector_store.provider"),
		Target:       v.GetString("vector_store.target"),
		Host:         v.GetString("vector_store.host"),
		Port:         v.GetInt("vector_store.port"),
		APIKey:       v.GetString("vector_store.api_key"),
		Dimensions:   v.GetUint("embedding.dimensions"),
		Logger:       c.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating vector driver: %w", err)
	}

	graphDriver, err := graphutils.NewGraphDriver(ctx, &graphutils.NewGraphDriverOpts{
		ProviderType: v.GetString("graph_store.provider"),
		Target:       v.GetString("graph_store.target"),
		Logger:       c.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating graph driver: %w", err)
	}

	var cacheDriver cache.Cache
	switch v.GetString("cache.provider") {
	case "inmemory":
		cacheDriver = cacheinmemory.NewCache()
	default:
		cacheDriver, err = cacheristretto.NewCache(cacheristretto.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("creating cache: %w", err)
		}
	}

	var publisher eventstream.Publisher
	eventsDurable := false
	switch v.GetString("events.provider") {
	case "kafka":
		publisher, err = eventkafka.NewPublisher(eventkafka.Config{
			Brokers: v.GetStringSlice("events.brokers"),
			Topic:   v.GetString("events.topic"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		eventsDurable = true
	default:
		publisher = eventnop.NewPublisher()
	}

	clk := clock.NewSystem()
	locks := locallock.NewManager(clk)

	var pairs [][2]string
	for _, pair := range v.GetStringSlice("quality.exclusive_tag_pairs") {
		// Pairs given as "a|b" strings.
		if i := strings.IndexByte(pair, '|'); i > 0 && i < len(pair)-1 {
			pairs = append(pairs, [2]string{pair[:i], pair[i+1:]})
		}
	}
	// Pairs given as two-element arrays, the form of the config file schema.
	rawPairs, _ := v.Get("quality.exclusive_tag_pairs").([]any)
	for _, item := range rawPairs {
		if p, ok := item.([]any); ok && len(p) == 2 {
			pairs = append(pairs, [2]string{fmt.Sprint(p[0]), fmt.Sprint(p[1])})
		}
	}
	detector := conflict.NewDetector(conflict.WithExclusiveTagPairs(pairs))

	eng := engine.New(engine.Ports{
		Vector:    vectorDriver,
		Graph:     graphDriver,
		Embedder:  embedder,
		Extractor: extractor,
		Cache:     cacheDriver,
		Events:    publisher,
		Locks:     locks,
		Clock:     clk,
	}, engine.Config{
		ConflictSimilarity: float32(v.GetFloat64("quality.conflict_similarity")),
		Weights: engine.Weights{
			Alpha: v.GetFloat64("retrieval.alpha"),
			Beta:  v.GetFloat64("retrieval.beta"),
			Gamma: v.GetFloat64("retrieval.gamma"),
			Delta: v.GetFloat64("retrieval.delta"),
		},
		FreshnessTauDays:     v.GetFloat64("retrieval.freshness_tau_days"),
		CacheTTL:             time.Duration(v.GetInt("cache.ttl_secs")) * time.Second,
		SweepInterval:        time.Duration(v.GetInt("quality.sweep_interval_secs")) * time.Second,
		DefaultK:             v.GetInt("retrieval.default_k"),
		DefaultMinConfidence: v.GetInt("retrieval.min_confidence"),
		MaxHops:              v.GetInt("retrieval.max_hops"),
		QualityWeights: engine.QualityWeights{
			Confidence: v.GetFloat64("quality.weight_confidence"),
			Coverage:   v.GetFloat64("quality.weight_coverage"),
			Freshness:  v.GetFloat64("quality.weight_freshness"),
		},
	}, detector, engine.Capabilities{
		VectorAvailable:  true,
		GraphAvailable:   true,
		CacheDistributed: false,
		EventsDurable:    eventsDurable,
	}, c.logger)

	cleanup := func() {
		eng.Close()
		publisher.Close()
		cacheDriver.Close()
		graphDriver.Close()
		vectorDriver.Close()
		extractor.Close()
		embedder.Close()
	}

	return eng, cleanup, nil
}
