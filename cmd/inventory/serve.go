package main

import (
	"github.com/spf13/cobra"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/config"
	"github.com/opted/inventory/internal/event"
	"github.com/opted/inventory/internal/eventbus"
	"github.com/opted/inventory/internal/feed"
	"github.com/opted/inventory/internal/handler"
	"github.com/opted/inventory/internal/schema"
	"github.com/opted/inventory/internal/server"
)

const busBuffer = 256

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port")
	bind(a.v, cmd.Flags().Lookup("port"), config.KeyHTTPPort)
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, logger := a.cfg, a.logger
	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	reg, err := schema.Default()
	if err != nil {
		return err
	}
	preds, err := reg.Predicates()
	if err != nil {
		return err
	}

	store, storeCloser, err := openStore(cfg, preds, logger)
	if err != nil {
		return err
	}
	defer storeCloser.Close()

	activityStore, activityCloser, err := openActivity(ctx, cfg)
	if err != nil {
		return err
	}
	defer activityCloser.Close()

	geocoder, geoCloser, err := openGeocoder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer geoCloser.Close()

	bus := eventbus.New(busBuffer, logger)
	hub := feed.NewHub(logger, cfg.FeedOrigins...)
	bus.Subscribe("log", eventbus.NewLogConsumer(logger))
	bus.Subscribe("feed", hub)
	bus.Start(ctx)
	defer bus.Stop()

	recorder := event.NewActivityRecorder(activityStore)
	recorder.SetPublisher(bus)

	return server.Run(ctx, server.Config{
		Port:     cfg.HTTPPort,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Logger:   logger,
		Deps: handler.Deps{
			Registry: reg,
			Store:    store,
			Geocoder: geocoder,
			Activity: activityStore,
			Recorder: recorder,
			Feed:     hub,
			Logger:   logger,
		},
	})
}
