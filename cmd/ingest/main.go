package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/carelink/carelink-ai/internal/config"
	"github.com/carelink/carelink-ai/internal/database"
	"github.com/carelink/carelink-ai/internal/knowledge"
	"github.com/carelink/carelink-ai/internal/services"
)

// Bulk-imports a JSON knowledge file into the vector store. The file holds an
// array of documents: [{"id": "...", "content": "...", "category": "...",
// "metadata": {...}}, ...]; id is optional.
func main() {
	file := flag.String("file", "", "path to the JSON knowledge file")
	category := flag.String("category", "", "category applied to documents without one")
	flag.Parse()

	if *file == "" {
		logrus.Fatal("usage: ingest -file knowledge.json [-category medication]")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	svc, err := services.NewServices(cfg, db.DB)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize services")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to read knowledge file")
	}

	var docs []knowledge.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		logrus.WithError(err).Fatal("Failed to parse knowledge file")
	}
	if *category != "" {
		for i := range docs {
			if docs[i].Category == "" {
				docs[i].Category = *category
			}
		}
	}

	logrus.WithField("documents", len(docs)).Info("starting knowledge import")

	ctx := context.Background()
	result := svc.Knowledge.IngestBatch(ctx, docs)

	logrus.WithFields(logrus.Fields{
		"total":   result.Total,
		"success": result.Success,
		"failed":  result.Failed,
	}).Info("knowledge import finished")

	for _, failure := range result.Failures {
		logrus.WithFields(logrus.Fields{
			"doc_id": failure.DocID,
			"error":  failure.Error,
		}).Warn("document failed")
	}

	stats, err := svc.Knowledge.GetStats(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to read knowledge base stats")
	}
	logrus.WithField("chunks", stats.ChunkCount).Info("knowledge base totals")

	if result.Failed > 0 {
		os.Exit(1)
	}
}
