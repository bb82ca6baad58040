package main

import (
	"os"

	"github.com/snapshop-tech/go-backend/internal/app"
	config "github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

//	@title			Visual Catalog Search API
//	@version		1.0
//	@description	Поиск похожих товаров по изображению и синхронизация каталога.
//	@BasePath		/api/v1

func main() {
	log := logger.NewSlogLogger()

	cfg, err := config.Load(log)
	if err != nil {
		log.Errorf(err, "failed to load config")
		os.Exit(1)
	}

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Errorf(err, "failed to initialize app")
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		os.Exit(1)
	}
}
