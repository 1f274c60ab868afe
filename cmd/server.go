// Server = ingest consumer + matching engine + merkle accumulator + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"github.com/obridge/maker-go/accumulator"
	"github.com/obridge/maker-go/database"
	"github.com/obridge/maker-go/ingest"
	"github.com/obridge/maker-go/market"
	"github.com/obridge/maker-go/matcher"
	"github.com/obridge/maker-go/orman"
	"github.com/obridge/maker-go/reporter"
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type MakerServerConfig struct {
	// state side
	DbFilePath    string // sqlite db file path
	RouteFilePath string // maker route JSON document, reloaded on SIGHUP

	// ingest side
	NatsUrl       string
	NatsStream    string
	NatsDurable   string
	SubjectPrefix string
	Workers       int
	InstanceCount int // number of deployed instances sharing the chains
	InstanceID    int // which shard this process is

	// registry side; empty rpc url runs against the in-memory double
	RegistryRpcUrl       string
	RegistryContractAddr string
	RegistryPrivKey      string

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// MakerServer holds the objects that consists of the maker server.
type MakerServer struct {
	MyStore       *matcher.Store
	MyMarket      *market.Market
	MyEngine      *matcher.Engine
	MyRegistry    orman.RootRegistry
	MyAccumulator *accumulator.Accumulator
	MyConsumer    *ingest.Consumer
	MyReporter    *reporter.HttpReporter
}

// NewMakerServer creates a new maker server.
// ctx is used for parental context to cancel the operation of maker server.
// wg is used to wait for all the goroutines inside the server (consumer, accumulator) to finish.
func NewMakerServer(msc *MakerServerConfig, ctx context.Context, wg *sync.WaitGroup) (*MakerServer, error) {
	// storage
	sqldb, err := database.OpenSQLite(msc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}

	myStore, err := matcher.NewStore(sqldb)
	if err != nil {
		logger.Fatalf("failed to create store: %v", err)
		return nil, err
	}

	// market snapshot from the route document
	myMarket := new(market.Market)
	if err := myMarket.LoadFile(msc.RouteFilePath); err != nil {
		logger.Fatalf("failed to load route file %s: %v", msc.RouteFilePath, err)
		return nil, err
	}

	// matching engine
	myEngine := matcher.NewEngine(myStore, myMarket, matcher.DefaultConfig())

	// root registry, real contract or in-memory double
	var myRegistry orman.RootRegistry
	if msc.RegistryRpcUrl != "" {
		myRegistry, err = orman.NewOrman(ctx, &orman.Config{
			URL:                     msc.RegistryRpcUrl,
			RegistryContractAddress: msc.RegistryContractAddr,
			PrivateKey:              msc.RegistryPrivKey,
		})
		if err != nil {
			logger.Fatalf("failed to create root registry client: %v", err)
			return nil, err
		}
	} else {
		logger.Warn("no registry rpc url, roots stay in memory")
		myRegistry = orman.NewSimulatedRegistry()
	}

	// merkle accumulator
	myAccumulator := accumulator.New(myStore, myMarket, myRegistry, accumulator.DefaultConfig())

	// ingest consumer
	icfg := ingest.DefaultConfig()
	icfg.URL = msc.NatsUrl
	if msc.NatsStream != "" {
		icfg.StreamName = msc.NatsStream
	}
	if msc.NatsDurable != "" {
		icfg.DurableName = msc.NatsDurable
	}
	if msc.SubjectPrefix != "" {
		icfg.SubjectPrefix = msc.SubjectPrefix
	}
	if msc.Workers > 0 {
		icfg.Workers = msc.Workers
	}
	if msc.InstanceCount > 0 {
		icfg.InstanceCount = msc.InstanceCount
		icfg.InstanceID = msc.InstanceID
	}
	myConsumer, err := ingest.NewConsumer(icfg, myMarket, myEngine.HandleBatch)
	if err != nil {
		logger.Fatalf("failed to create ingest consumer: %v", err)
		return nil, err
	}

	// http reporter
	myReporter := reporter.NewHttpReporter(msc.HttpIp, msc.HttpPort, myStore, myAccumulator)

	// Important: turn on the components!
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myConsumer.Start(ctx); err != nil && err != context.Canceled {
			logger.Errorf("ingest consumer stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myAccumulator.Loop(ctx); err != nil && err != context.Canceled {
			logger.Errorf("accumulator stopped: %v", err)
		}
	}()
	go myReporter.Run()

	// Route document reload on SIGHUP. A broken document keeps the
	// previous snapshot.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				signal.Stop(hupCh)
				return
			case <-hupCh:
				if err := myMarket.LoadFile(msc.RouteFilePath); err != nil {
					logger.Errorf("route reload failed, keeping previous snapshot: %v", err)
					continue
				}
				logger.WithField("file", msc.RouteFilePath).Info("routes reloaded")
			}
		}
	}()

	return &MakerServer{
		MyStore:       myStore,
		MyMarket:      myMarket,
		MyEngine:      myEngine,
		MyRegistry:    myRegistry,
		MyAccumulator: myAccumulator,
		MyConsumer:    myConsumer,
		MyReporter:    myReporter,
	}, nil
}

func StartMakerServerAndWait(msc *MakerServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // defense programing

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Launch a new goroutine to handle the signal
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	_, err := NewMakerServer(msc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create maker server: %v", err)
		return
	}

	// wait for all routines to finish (which is forever)
	wg.Wait()
}
