// Package stream provides a DynamoDB Streams handler that purges the
// descendants of a deleted record. Deleting a record through the store
// removes only that record; the stream handler picks up the REMOVE event
// and deletes everything below it in the identity hierarchy, plus any
// orphaned unique constraint rows.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/espalier/record"
)

// Store is the slice of the dynamo store the handler needs.
type Store interface {
	Query(ctx context.Context, schema *record.Schema, q record.Query) (record.Iterator, error)
	Delete(ctx context.Context, id record.Identity) error
	DeleteConstraintRows(ctx context.Context, pks []string) error
}

// Handler processes DynamoDB stream events for descendant purges.
type Handler struct {
	store  Store
	reg    *record.Registry
	logger *slog.Logger
}

// NewHandler creates a stream handler over the registered schemas.
func NewHandler(s Store, reg *record.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		reg:    reg,
		logger: logger,
	}
}

// HandlePurge processes DynamoDB stream events, deleting the descendants of
// every removed record. This function is designed to be used as an AWS
// Lambda handler. Descendant deletes emit their own REMOVE events, so deep
// hierarchies drain level by level; the whole process is idempotent.
func (h *Handler) HandlePurge(ctx context.Context, event events.DynamoDBEvent) error {
	for _, rec := range event.Records {
		if err := h.processRecord(ctx, rec); err != nil {
			h.logger.Error("failed to process record",
				"eventID", rec.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, rec events.DynamoDBEventRecord) error {
	if rec.EventName != "REMOVE" {
		return nil
	}

	path := getStringAttr(rec.Change.OldImage, "pk")
	if path == "" {
		return nil
	}
	id, err := record.ParsePath(path)
	if err != nil {
		return fmt.Errorf("parse deleted path %q: %w", path, err)
	}

	h.logger.Info("processing purge",
		"path", path,
		"kind", id.Kind(),
	)

	// A record deleted outside the store keeps its constraint row; the
	// old image carries the key to clean it up.
	if uniquePK := getStringAttr(rec.Change.OldImage, "_unique_pk"); uniquePK != "" {
		if err := h.store.DeleteConstraintRows(ctx, []string{uniquePK}); err != nil {
			h.logger.Warn("failed to delete constraint row",
				"pk", uniquePK,
				"error", err,
			)
		}
	}

	deleted := 0
	for _, schema := range h.reg.Schemas() {
		n, err := h.purgeChildren(ctx, schema, id)
		if err != nil {
			return fmt.Errorf("purge %s children: %w", schema.Name(), err)
		}
		deleted += n
	}

	h.logger.Info("purge completed",
		"path", path,
		"descendantsDeleted", deleted,
	)
	return nil
}

// purgeChildren deletes every descendant of id for one schema.
func (h *Handler) purgeChildren(ctx context.Context, schema *record.Schema, id record.Identity) (int, error) {
	it, err := h.store.Query(ctx, schema, record.Query{
		Ancestor: &id,
		KeysOnly: true,
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for {
		child, err := it.Next()
		if errors.Is(err, record.ErrDone) {
			return deleted, nil
		}
		if err != nil {
			return deleted, err
		}
		key := child.Key()
		if key == nil {
			continue
		}
		if err := h.store.Delete(ctx, *key); err != nil {
			h.logger.Warn("failed to delete descendant",
				"path", key.Path(),
				"error", err,
			)
			// Continue - idempotent, will retry
			continue
		}
		deleted++
	}
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok {
		return v.String()
	}
	return ""
}
