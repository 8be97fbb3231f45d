package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/alsps-meter/epl8802"
	"github.com/ztkent/alsps-meter/internal/alspsmeter"
	"github.com/ztkent/alsps-meter/internal/config"
	"github.com/ztkent/alsps-meter/internal/tools"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

/*
	This is the entry point for the ALS/PS Meter service.
	It runs at startup on a Raspberry Pi with the EPL8802 sensor on I2C and,
	optionally, its interrupt line on a GPIO.
*/

func main() {
	cfg := config.Load()

	logger, logOutput, err := tools.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Failed to open the log file: %v", err)
	}
	logrus.SetOutput(logOutput)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logger.GetLevel())
	epl8802.SetLogOutput(logOutput)
	epl8802.SetLogLevel(logger.GetLevel())
	alspsmeter.SetLogger(logger)

	pid := os.Getpid()
	logger.WithField("pid", pid).Info("ALS/PS Meter starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// connect to the sqlite database
	db, err := tools.ConnectSqlite(cfg.DBPath)
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		logger.Fatalf("Failed to connect to the sqlite database: %v", err)
	}
	defer db.Close()

	// register the periph host drivers for the I2C bus and interrupt pin
	if _, err := host.Init(); err != nil {
		logger.Fatalf("Failed to initialize periph host drivers: %v", err)
	}

	// connect to the sensor
	conn, err := openConnection(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to the EPL8802 sensor: %v", err)
	}
	defer conn.Close()

	opts, err := engineOpts(cfg, db)
	if err != nil {
		logger.Fatalf("Invalid sensor configuration: %v", err)
	}
	device, err := epl8802.NewEPL8802(epl8802.NewBus(conn), opts)
	if err != nil {
		logger.Fatalf("Failed to initialize the EPL8802 sensor on %s: %v", conn.Name, err)
	}
	defer device.Halt()

	if cfg.IRQPin != "" {
		pin := gpioreg.ByName(cfg.IRQPin)
		if pin == nil {
			logger.Fatalf("Failed to find interrupt pin %s", cfg.IRQPin)
		}
		go func() {
			if err := device.WatchInterrupt(ctx, pin); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Interrupt line stopped")
			}
		}()
	} else if !cfg.ALSPolling || !cfg.PSPolling {
		logger.Warn("IRQ_PIN is not set, channels in interrupt mode will not report")
	}

	meter := &alspsmeter.Meter{
		Sensor:    device,
		ResultsDB: db,
		DBPath:    cfg.DBPath,
		Location:  time.Local,
		Pid:       pid,
	}

	if cfg.MQTTBroker != "" {
		client, err := alspsmeter.NewMQTTClient(alspsmeter.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		})
		if err != nil {
			logger.WithError(err).Error("MQTT publishing disabled")
		} else {
			defer client.Disconnect(250)
			meter.Publisher = alspsmeter.NewPublisher(client, cfg.MQTTTopicPrefix)
			go meter.Publisher.Start(ctx)
		}
	}

	if cfg.ClickHouseAddr != "" {
		archive, err := alspsmeter.NewClickHouseArchive(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePass)
		if err != nil {
			logger.WithError(err).Error("ClickHouse archive disabled")
		} else {
			defer archive.Close()
			meter.Archive = archive
		}
	}

	// Listen for readings from the sensor, record them in sqlite
	go meter.MonitorAndRecordResults(ctx)

	// Initialize router
	r := chi.NewRouter()
	// Log requests, recover from panics, and only serve the local network
	r.Use(middleware.Logger)
	r.Use(handleServerPanic)
	r.Use(tools.CheckInNetwork)
	defineRoutes(r, meter)

	server := &http.Server{Addr: ":" + cfg.Port(), Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if cfg.SSL {
		// Generate a self-signed certificate if one doesn't exist
		certPath, keyPath := "cert.pem", "key.pem"
		hostname, _ := os.Hostname()
		if err := tools.EnsureCertificate(certPath, keyPath, "localhost", hostname); err != nil {
			logger.Fatalf("Failed to prepare the TLS certificate: %v", err)
		}
		logger.Infof("Starting HTTPS server on port %s", cfg.Port())
		err = server.ListenAndServeTLS(certPath, keyPath)
	} else {
		logger.Infof("Starting HTTP server on port %s", cfg.Port())
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Server stopped: %v", err)
	}
	logger.Info("ALS/PS Meter stopped")
}

func openConnection(cfg *config.Config) (*epl8802.Connection, error) {
	switch cfg.I2CDriver {
	case "devfs":
		return epl8802.OpenDevfs(cfg.I2CBus, cfg.I2CAddr)
	case "periph":
		return epl8802.OpenPeriph(cfg.I2CBus, cfg.I2CAddr, 400*physic.KiloHertz)
	default:
		return nil, fmt.Errorf("unknown I2C_DRIVER %q", cfg.I2CDriver)
	}
}

func engineOpts(cfg *config.Config, db *sql.DB) (*epl8802.Opts, error) {
	opts := epl8802.DefaultOpts()
	opts.PollInterval = cfg.PollInterval
	opts.Configuration.Light.Polling = cfg.ALSPolling
	opts.Configuration.Proximity.Polling = cfg.PSPolling

	reportType, err := epl8802.ParseReportType(cfg.ALSReportType)
	if err != nil {
		return nil, err
	}
	opts.Light.ReportType = reportType

	switch cfg.CalibrationStore {
	case "sqlite":
		files := &tools.FileCalibrationStore{
			ProximityPath: cfg.CalibrationFile,
			LightPath:     cfg.CalibrationALSFile,
		}
		if _, err := tools.SeedCalibration(db, files); err != nil {
			logrus.WithError(err).Warn("Failed to import the calibration files")
		}
		opts.Store = &tools.SqliteCalibrationStore{DB: db}
	case "file":
		opts.Store = &tools.FileCalibrationStore{
			ProximityPath: cfg.CalibrationFile,
			LightPath:     cfg.CalibrationALSFile,
		}
	case "none":
		opts.Store = epl8802.NopCalibrationStore{}
	default:
		return nil, fmt.Errorf("unknown CALIBRATION_STORE %q", cfg.CalibrationStore)
	}
	return opts, nil
}

func defineRoutes(r *chi.Mux, meter *alspsmeter.Meter) {
	meter.Mount(r)

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
			Pid         int    `json:"pid"`
		}{
			ServiceName: "ALS/PS Meter",
			Pid:         meter.Pid,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				alspsmeter.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
