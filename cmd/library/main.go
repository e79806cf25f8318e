package main

import (
	"io/fs"
	stdLog "log"
	"time"

	"github.com/Astemirdum/library-desk/library/app"
	"github.com/Astemirdum/library-desk/library/config"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		stdLog.Fatal("load envs from .env ", err)
	}
	cfg := config.NewConfig(
		config.WithWriteTimeout(time.Minute),
	)

	app.Run(cfg)
}
