package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"kpicompare/internal/app"
	"kpicompare/internal/config"
	"kpicompare/pkg/contracts"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (defaults to $KPI_CONFIG_FILE or ./config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString(config.AppName))
		return
	}

	application, err := app.NewApplication(*configFile)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
