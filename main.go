package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/internal/database"
	"github.com/customeros/imagestack/internal/enum"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/repository"
	"github.com/customeros/imagestack/server"
	"github.com/customeros/imagestack/services"
)

func usage() {
	fmt.Println("Usage: imagestack <command>")
	fmt.Println("Commands:")
	fmt.Println("  migrate                       Prepare the property store")
	fmt.Println("  server                        Start the application server")
	fmt.Println("  archive                       Run the feed archiver once and print the report")
	fmt.Println("  poll-inbox                    Poll the IMAP inbox once and print the report")
	fmt.Println("  ingest <file.eml> [recipient] Ingest one message from disk")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()
	defer appLogger.Sync()

	var imagestackDB *gorm.DB
	if cfg.StoreConfig.Backend == enum.PropertyStorePostgres {
		imagestackDB, err = database.InitImagestackDatabase(cfg.DatabaseConfig)
		if err != nil {
			appLogger.Fatalf("Imagestack database initialization failed: %v", err)
		}
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "migrate":
		if err := repository.Migrate(ctx, cfg, imagestackDB); err != nil {
			appLogger.Fatalf("Store migration failed: %v", err)
		}
		appLogger.Info("Store migration completed successfully")

	case "server":
		appLogger.Info("Imagestack starting up...")
		repos := initRepositories(cfg, imagestackDB, appLogger)

		srv, err := server.NewServer(cfg, appLogger, repos)
		if err != nil {
			appLogger.Fatalf("Server setup failed: %v", err)
		}
		if err := srv.Run(); err != nil {
			appLogger.Fatalf("Server startup failed: %v", err)
		}
		appLogger.Info("Shutdown complete")

	case "archive":
		svcs := initServices(cfg, imagestackDB, appLogger)
		if svcs.Archiver == nil {
			appLogger.Fatal("Archiver is not configured, set FEED_BASE_URL")
		}
		report, err := svcs.Archiver.Run(ctx)
		printJSON(report)
		if err != nil {
			appLogger.Fatalf("Archiver run failed: %v", err)
		}

	case "poll-inbox":
		svcs := initServices(cfg, imagestackDB, appLogger)
		if svcs.Inbox == nil {
			appLogger.Fatal("Inbox polling is not configured, set IMAP_HOST")
		}
		report, err := svcs.Inbox.Poll(ctx)
		printJSON(report)
		if err != nil {
			appLogger.Fatalf("Inbox poll failed: %v", err)
		}

	case "ingest":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		raw, err := os.ReadFile(os.Args[2])
		if err != nil {
			appLogger.Fatalf("Could not read message: %v", err)
		}
		recipient := ""
		if len(os.Args) > 3 {
			recipient = os.Args[3]
		}

		svcs := initServices(cfg, imagestackDB, appLogger)
		result, err := svcs.MailIngest.Handle(ctx, models.IngestEvent{
			RecipientAddress: recipient,
			RawMessage:       raw,
			ReceivedAt:       time.Now().UTC(),
			Transport:        enum.IngestTransportFile,
		})
		printJSON(result)
		if err != nil {
			appLogger.Fatalf("Ingestion failed: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func initRepositories(cfg *config.Config, db *gorm.DB, log logger.Logger) *repository.Repositories {
	repos, err := repository.InitRepositories(cfg, db)
	if err != nil {
		log.Fatalf("Repository initialization failed: %v", err)
	}
	return repos
}

func initServices(cfg *config.Config, db *gorm.DB, log logger.Logger) *services.Services {
	svcs, err := services.InitServices(cfg, log, initRepositories(cfg, db, log), services.Options{})
	if err != nil {
		log.Fatalf("Service initialization failed: %v", err)
	}
	return svcs
}

func printJSON(v any) {
	if v == nil {
		return
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(out))
}
