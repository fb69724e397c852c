package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/yohandry10/erp-sub001/internal/application/billing"
	"github.com/yohandry10/erp-sub001/internal/application/derivation"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/eventbus"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/ose"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/postgres"
	httpRouter "github.com/yohandry10/erp-sub001/internal/interfaces/http"
	"github.com/yohandry10/erp-sub001/pkg/config"
	"github.com/yohandry10/erp-sub001/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	docRepo := postgres.NewDocumentRepository(pool)
	companyRepo := postgres.NewCompanyRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	bus := eventbus.New(log)

	xmlBuilder := ose.NewXMLBuilderService()
	signerSvc := ose.NewDigitalSignatureService()
	oseClient := ose.NewSOAPOSEClient(cfg.OSE.BaseURL, cfg.OSE.Timeout, log)

	// Planificador ↔ máquina de estados: dependencia mutua resuelta en dos pasos.
	scheduler := billing.NewRetryScheduler(cfg.Retry, log)
	machine := billing.NewStateMachine(
		txRunner, docRepo, companyRepo,
		xmlBuilder, signerSvc, oseClient,
		bus, scheduler,
		cfg.OSE, cfg.Retry, log,
	)
	scheduler.SetSubmitter(machine.AsSubmitter())

	// Derivación automática de guías sobre facturas aceptadas.
	engine := derivation.NewEngine(cfg.Derivation, machine, docRepo, log)
	engine.Start(bus)

	commands := billing.NewCommands(machine)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 30,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		Commands:  commands,
		JWTSecret: cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	// Primero los timers (no disparan más envíos), después el bus.
	scheduler.Stop()
	bus.Close()

	log.Info().Msg("aplicación detenida")
}
