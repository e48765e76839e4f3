package main

import (
	"github.com/cumulusfs/cumulus/config"
	"github.com/cumulusfs/cumulus/database"
	"github.com/cumulusfs/cumulus/handler"
	"github.com/cumulusfs/cumulus/models"
	"github.com/cumulusfs/cumulus/pkg/events"
	"github.com/cumulusfs/cumulus/router"
	"github.com/cumulusfs/cumulus/service"
	"github.com/cumulusfs/cumulus/storage"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	db := database.InitDB(cfg)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Bucket{},
		&models.Item{},
		&models.Version{},
		&models.Permission{},
		&models.Approver{},
		&models.Approval{},
	); err != nil {
		logrus.WithError(err).Fatal("migrate schema")
	}

	var store storage.Store
	if cfg.StorageDir != "" {
		store = storage.NewFilesystemStore(cfg.StorageDir)
		logrus.WithField("dir", cfg.StorageDir).Info("using filesystem storage")
	} else {
		s, err := storage.NewMinioStore(cfg.MinIO)
		if err != nil {
			logrus.WithError(err).Fatal("connect minio")
		}
		store = s
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
	}

	permissions := service.NewPermissionService()
	users := service.NewUserService(db, cfg.JWTSecret, cfg.JWTExpireMins)
	buckets := service.NewBucketService(db, store, permissions, publisher)
	objects := service.NewObjectService(db, store, permissions, publisher)
	versions := service.NewVersionService(db, store, permissions, publisher)
	approvals := service.NewApprovalService(db, permissions)
	listings := service.NewListingService(db, permissions)

	r := router.Setup(cfg.JWTSecret,
		handler.NewUserHandler(users),
		handler.NewBucketHandler(buckets, listings, approvals),
		handler.NewObjectHandler(objects, versions, listings, approvals),
		handler.NewVersionHandler(versions, approvals),
	)

	logrus.WithField("addr", cfg.HTTPAddr).Info("cumulus listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logrus.WithError(err).Fatal("server exited")
	}
}
