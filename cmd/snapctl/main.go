package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app"
	"github.com/anyproto/any-snapshot/app/logger"
	"github.com/anyproto/any-snapshot/config"
	"github.com/anyproto/any-snapshot/metric"
	"github.com/anyproto/any-snapshot/snapshotservice"
)

var log = logger.NewNamed("main")

func main() {
	c := &cli{}
	err := newRootCmd(c).Execute()
	// a failed command skips the post run hook
	if stopErr := c.stop(context.Background()); stopErr != nil {
		log.Error("close error", zap.Error(stopErr))
	}
	if err != nil {
		os.Exit(1)
	}
}

func Bootstrap(a *app.App, conf *config.Config) {
	a.Register(conf).
		Register(metric.New()).
		Register(snapshotservice.New())
}

type cli struct {
	configPath string
	logLevels  string
	a          *app.App
	service    snapshotservice.Service
}

func (c *cli) start(ctx context.Context) error {
	conf, err := config.NewFromFile(c.configPath)
	if err != nil {
		return fmt.Errorf("can't open config file: %w", err)
	}
	if c.logLevels != "" {
		conf.Log.Levels = append(logger.LevelsFromStr(c.logLevels), conf.Log.Levels...)
	}
	conf.Log.ApplyGlobal()

	c.a = new(app.App)
	Bootstrap(c.a, conf)
	if err = c.a.Start(ctx); err != nil {
		return err
	}
	c.service = app.MustComponent[snapshotservice.Service](c.a)
	return nil
}

func (c *cli) stop(ctx context.Context) error {
	if c.a == nil {
		return nil
	}
	err := c.a.Close(ctx)
	c.a = nil
	return err
}
