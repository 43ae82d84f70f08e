package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/ziadhany/federatedcode/activitypub"
	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/importer"
	"github.com/ziadhany/federatedcode/util"
	"github.com/ziadhany/federatedcode/web"
)

func main() {
	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	cmd := &cli.Command{
		Name:  "federatedcode",
		Usage: "federated package metadata server",
		Commands: []*cli.Command{
			serveCommand(conf),
			federateCommand(conf),
			syncCommand(conf),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func serveCommand(conf *util.AppConfig) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the federation server with its background workers",
		Action: func(ctx context.Context, _ *cli.Command) error {
			fmt.Println("Configuration:")
			fmt.Println(util.PrettyPrint(conf))

			database := db.Init(conf.Conf.DbPath)
			key, pubPem, err := activitypub.LoadServerKeys()
			if err != nil {
				return err
			}

			resolver := activitypub.NewResolver(conf, database)
			engine := activitypub.NewEngine(conf, database, resolver)
			imp := importer.New(conf, database)

			activitypub.StartDeliveryWorker(conf, database, key)
			importer.StartSyncWorker(conf, database, imp)

			return web.NewServer(conf, database, engine, pubPem).Run()
		},
	}
}

func federateCommand(conf *util.AppConfig) *cli.Command {
	return &cli.Command{
		Name:  "federate",
		Usage: "deliver queued activities to remote inboxes",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "loop",
				Usage: "keep draining the queue on the configured interval",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			database := db.Init(conf.Conf.DbPath)
			key, _, err := activitypub.LoadServerKeys()
			if err != nil {
				return err
			}

			if !c.Bool("loop") {
				return activitypub.DrainQueue(conf, database, key)
			}

			ticker := time.NewTicker(time.Duration(conf.Conf.DeliverySeconds) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := activitypub.DrainQueue(conf, database, key); err != nil {
						log.Printf("Federate: drain failed: %v", err)
					}
				}
			}
		},
	}
}

func syncCommand(conf *util.AppConfig) *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "import metadata repositories",
		ArgsUsage: "[REPOSITORY_ID...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "list",
				Usage: "list registered repositories instead of syncing",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "sync every registered repository",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			database := db.Init(conf.Conf.DbPath)
			imp := importer.New(conf, database)

			if c.Bool("list") {
				err, repos := database.ReadAllRepositories()
				if err != nil {
					return err
				}
				for _, repo := range *repos {
					watermark := repo.LastImportedCommit
					if watermark == "" {
						watermark = "never imported"
					}
					fmt.Printf("%s  %s  (%s)\n", repo.Id, repo.URL, watermark)
				}
				return nil
			}

			if c.Bool("all") {
				return imp.SyncAll()
			}

			args := c.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("nothing to sync: pass repository ids or --all")
			}
			failed := 0
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					log.Printf("Sync: invalid repository id %q", arg)
					failed++
					continue
				}
				err, repo := database.ReadRepositoryById(id)
				if err != nil {
					log.Printf("Sync: unknown repository %s", id)
					failed++
					continue
				}
				if err := imp.Sync(repo); err != nil {
					log.Printf("Sync: %s failed: %v", repo.URL, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d repositories failed", failed, len(args))
			}
			return nil
		},
	}
}
