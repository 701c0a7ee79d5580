package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/overcast-dev/research_panel/internal/server"
	"github.com/overcast-dev/research_panel/internal/service"
	"github.com/overcast-dev/research_panel/pkg/config"
	"github.com/overcast-dev/research_panel/pkg/interview"
	"github.com/overcast-dev/research_panel/pkg/llm"
	"github.com/overcast-dev/research_panel/pkg/logger"
	"github.com/overcast-dev/research_panel/pkg/persona"
	"github.com/overcast-dev/research_panel/pkg/report"
	"github.com/overcast-dev/research_panel/pkg/retrieve"
	"github.com/overcast-dev/research_panel/pkg/search/factory"
	"github.com/overcast-dev/research_panel/pkg/storage"
	"github.com/overcast-dev/research_panel/pkg/workflow"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the service name.
	Name string = "research_panel"
	// Version is the service version.
	Version string
	// flagconf is the config file path flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(flagconf)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		stdlog.Fatalf("failed to init logger: %v", err)
	}
	logger.Log.Infof("starting %s", Name)

	ctx := context.Background()

	llmClient, err := llm.NewClient(ctx, cfg)
	if err != nil {
		logger.Log.Fatalf("llm init failed: %v", err)
	}

	searcher, err := factory.NewSearcher(cfg)
	if err != nil {
		logger.Log.Fatalf("search init failed: %v", err)
	}

	store, cleanup, err := newRunStore(cfg)
	if err != nil {
		logger.Log.Fatalf("store init failed: %v", err)
	}
	defer cleanup()

	retriever := retrieve.NewRetriever(llmClient, searcher, retrieve.Options{
		MaxResults:    cfg.Search.MaxResults,
		EnrichContent: cfg.Search.EnrichContent,
	})
	engine := interview.NewEngine(llmClient, retriever)
	generator := persona.NewGenerator(llmClient)
	compiler := report.NewCompiler(llmClient)

	ctrl := workflow.NewController(generator, engine, compiler, store,
		workflow.WithMaxParallel(cfg.Concurrency.MaxInterviews),
	)

	klogger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	svc := service.NewPanelService(ctrl, cfg.Run, klogger)
	httpSrv := server.NewHTTPServer(cfg.Server, svc, klogger)

	app := kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Logger(klogger),
		kratos.Server(httpSrv),
	)

	if err := app.Run(); err != nil {
		logger.Log.Fatalf("server exited: %v", err)
	}
}

// newRunStore selects the run store backend from config.
func newRunStore(cfg *config.Config) (workflow.RunStore, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		s, err := storage.NewStorage(cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return workflow.NewMemoryStore(), func() {}, nil
	}
}
