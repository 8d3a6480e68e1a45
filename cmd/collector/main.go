package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/studykeeper/internal/buildinfo"
	"github.com/dmitrijs2005/studykeeper/internal/collector"
	"github.com/dmitrijs2005/studykeeper/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := collector.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.RegisterDefaultProducers(ctx); err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
