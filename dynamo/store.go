// Package dynamo implements record.Store on DynamoDB. Records live in a
// single table keyed by their identity path, with a global secondary index
// over (kind, path) serving kind and ancestor queries. An optional second
// table holds transactional reservation rows for unique property groups.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/espalier/internal/keypath"
	"github.com/jacentio/espalier/record"
)

// Item attributes reserved for the store itself. Schema properties with
// these names would collide and are rejected at New.
const (
	attrPK        = "pk"
	attrKind      = "kind"
	attrPath      = "path"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrUniquePK  = "_unique_pk"
)

// Store provides DynamoDB persistence for records of registered schemas.
type Store struct {
	client *dynamodb.Client
	config Config
	reg    *record.Registry
	convs  map[string]*record.Converter
	logger *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithConverter installs a custom converter for one registered schema.
func WithConverter(conv *record.Converter) Option {
	return func(s *Store) { s.convs[conv.Schema().Name()] = conv }
}

// New creates a Store over the registered schemas. Schemas using reserved
// attribute names are rejected.
func New(client *dynamodb.Client, config Config, reg *record.Registry, opts ...Option) (*Store, error) {
	config.validate()
	s := &Store{
		client: client,
		config: config,
		reg:    reg,
		convs:  make(map[string]*record.Converter),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	reserved := map[string]bool{
		attrPK: true, attrKind: true, attrPath: true,
		attrCreatedAt: true, attrUpdatedAt: true, attrUniquePK: true,
	}
	for _, schema := range reg.Schemas() {
		for _, prop := range schema.Properties() {
			if reserved[prop.Name] {
				return nil, fmt.Errorf("%w: property %q of %q collides with a store attribute", record.ErrInvalidValue, prop.Name, schema.Name())
			}
		}
		if _, ok := s.convs[schema.Name()]; !ok {
			s.convs[schema.Name()] = record.NewConverter(schema)
		}
	}
	return s, nil
}

func (s *Store) converter(schema *record.Schema) (*record.Converter, error) {
	conv, ok := s.convs[schema.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: schema %q is not registered", record.ErrInvalidValue, schema.Name())
	}
	return conv, nil
}

// Put writes the record, allocating a uuid identifier when it has no
// identity or a pending one. When the unique constraint table is enabled
// and the schema declares a unique group, the write and its reservation row
// go through one transaction; a lost reservation surfaces as
// record.ErrDuplicateEntry.
func (s *Store) Put(ctx context.Context, rec *record.Record) (record.Identity, error) {
	conv, err := s.converter(rec.Schema())
	if err != nil {
		return record.Identity{}, err
	}
	id := identityFor(rec)
	cp := rec.Clone()
	if err := cp.Bind(id); err != nil {
		return record.Identity{}, err
	}
	wire, err := conv.EncodeValues(cp, true)
	if err != nil {
		return record.Identity{}, err
	}
	item, err := attributevalue.MarshalMap(wire)
	if err != nil {
		return record.Identity{}, fmt.Errorf("marshal record: %w", err)
	}

	path := id.Path()
	now := time.Now().UTC().Format(time.RFC3339)
	item[attrPK] = &types.AttributeValueMemberS{Value: path}
	item[attrKind] = &types.AttributeValueMemberS{Value: id.Kind()}
	item[attrPath] = &types.AttributeValueMemberS{Value: path}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: now}

	var oldUniquePK, oldCreatedAt string
	if rec.Persisted() {
		old, err := s.getItem(ctx, path)
		if err != nil && !errors.Is(err, record.ErrNotFound) {
			return record.Identity{}, err
		}
		oldUniquePK = stringAttr(old, attrUniquePK)
		oldCreatedAt = stringAttr(old, attrCreatedAt)
	}
	if oldCreatedAt != "" {
		item[attrCreatedAt] = &types.AttributeValueMemberS{Value: oldCreatedAt}
	} else {
		item[attrCreatedAt] = &types.AttributeValueMemberS{Value: now}
	}

	uniquePK, err := s.uniquePK(rec.Schema(), conv, cp)
	if err != nil {
		return record.Identity{}, err
	}
	if uniquePK == "" {
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.config.Table),
			Item:      item,
		}); err != nil {
			return record.Identity{}, err
		}
		if oldUniquePK != "" {
			s.deleteConstraintRow(ctx, oldUniquePK)
		}
		return id, nil
	}

	item[attrUniquePK] = &types.AttributeValueMemberS{Value: uniquePK}
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName: aws.String(s.config.Table),
			Item:      item,
		},
	}}
	constraintIndex := -1
	if uniquePK != oldUniquePK {
		constraintIndex = len(items)
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.UniqueTable),
				Item: map[string]types.AttributeValue{
					attrPK:       &types.AttributeValueMemberS{Value: uniquePK},
					"record_pk":  &types.AttributeValueMemberS{Value: path},
					attrKind:     &types.AttributeValueMemberS{Value: id.Kind()},
					"created_at": &types.AttributeValueMemberS{Value: now},
				},
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		})
		if oldUniquePK != "" {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.config.UniqueTable),
					Key: map[string]types.AttributeValue{
						attrPK: &types.AttributeValueMemberS{Value: oldUniquePK},
					},
				},
			})
		}
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return record.Identity{}, s.mapTransactError(err, constraintIndex, rec.Schema())
	}
	return id, nil
}

// uniquePK computes the reservation row key for the record's unique group,
// or "" when the table is disabled, the schema has no group, or any grouped
// value is unset.
func (s *Store) uniquePK(schema *record.Schema, conv *record.Converter, rec *record.Record) (string, error) {
	group := schema.Unique()
	if s.config.UniqueTable == "" || len(group) == 0 {
		return "", nil
	}
	wire, err := conv.EncodeValues(rec, false)
	if err != nil {
		return "", err
	}
	values := make([]string, 0, len(group))
	for _, name := range group {
		if wire[name] == nil {
			return "", nil
		}
		values = append(values, fmt.Sprint(wire[name]))
	}
	return keypath.UniquePK(schema.Name(), strings.Join(group, ","), strings.Join(values, "\x1f")), nil
}

// mapTransactError translates a failed reservation into the duplicate entry
// error the caller expects.
func (s *Store) mapTransactError(err error, constraintIndex int, schema *record.Schema) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && constraintIndex >= 0 && constraintIndex < len(canceled.CancellationReasons) {
		reason := canceled.CancellationReasons[constraintIndex]
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			dup := &record.DuplicateEntryError{Kind: schema.Name()}
			for _, name := range schema.Unique() {
				dup.Fields = append(dup.Fields, record.FieldValue{Name: name})
			}
			return dup
		}
	}
	return err
}

func (s *Store) getItem(ctx context.Context, path string) (map[string]types.AttributeValue, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: path},
		},
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, path)
	}
	return result.Item, nil
}

// Get loads the record at the identity with a consistent read, or
// record.ErrNotFound.
func (s *Store) Get(ctx context.Context, id record.Identity) (*record.Record, error) {
	item, err := s.getItem(ctx, id.Path())
	if err != nil {
		return nil, err
	}
	return s.unmarshalRecord(item)
}

func (s *Store) unmarshalRecord(item map[string]types.AttributeValue) (*record.Record, error) {
	path := stringAttr(item, attrPK)
	id, err := record.ParsePath(path)
	if err != nil {
		return nil, err
	}
	schema, ok := s.reg.Schema(id.Kind())
	if !ok {
		return nil, fmt.Errorf("%w: schema %q is not registered", record.ErrInvalidValue, id.Kind())
	}
	conv, err := s.converter(schema)
	if err != nil {
		return nil, err
	}

	wire := make(map[string]any, len(item))
	for name, av := range item {
		switch name {
		case attrPK, attrKind, attrPath, attrCreatedAt, attrUpdatedAt, attrUniquePK:
			continue
		}
		var v any
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", name, err)
		}
		wire[name] = v
	}
	values, err := conv.DecodeValues(wire, true)
	if err != nil {
		return nil, err
	}
	rec := record.NewRecord(schema)
	if err := rec.Populate(values); err != nil {
		return nil, err
	}
	if err := rec.Bind(id); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record and its reservation row. Deleting an absent
// record succeeds.
func (s *Store) Delete(ctx context.Context, id record.Identity) error {
	path := id.Path()
	item, err := s.getItem(ctx, path)
	if errors.Is(err, record.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: path},
		},
	}); err != nil {
		return err
	}
	if uniquePK := stringAttr(item, attrUniquePK); uniquePK != "" {
		s.deleteConstraintRow(ctx, uniquePK)
	}
	return nil
}

// DeleteConstraintRows removes reservation rows by key. The stream handler
// calls it when purging descendants of a deleted record.
func (s *Store) DeleteConstraintRows(ctx context.Context, pks []string) error {
	for _, pk := range pks {
		if err := s.deleteConstraintRowErr(ctx, pk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteConstraintRow(ctx context.Context, pk string) {
	if err := s.deleteConstraintRowErr(ctx, pk); err != nil {
		s.logger.Warn("failed to delete constraint row", "pk", pk, "error", err)
	}
}

func (s *Store) deleteConstraintRowErr(ctx context.Context, pk string) error {
	if s.config.UniqueTable == "" {
		return nil
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.UniqueTable),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: pk},
		},
	})
	return err
}

// Query runs a kind query through the (kind, path) index, restricting to an
// ancestor's subtree with a begins_with range condition and applying
// equality filters on wire values. Results stream lazily page by page.
// The index cannot serve consistent reads, so Query.Consistent is advisory
// here.
func (s *Store) Query(ctx context.Context, schema *record.Schema, q record.Query) (record.Iterator, error) {
	conv, err := s.converter(schema)
	if err != nil {
		return nil, err
	}

	keyCond := "#kind = :kind"
	exprNames := map[string]string{"#kind": attrKind}
	exprValues := map[string]types.AttributeValue{
		":kind": &types.AttributeValueMemberS{Value: schema.Name()},
	}
	if q.Ancestor != nil {
		keyCond += " AND begins_with(#path, :ancestor)"
		exprNames["#path"] = attrPath
		exprValues[":ancestor"] = &types.AttributeValueMemberS{Value: q.Ancestor.Path() + keypath.Sep}
	}

	var filters []string
	i := 0
	for name, value := range q.Filters {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal filter %q: %w", name, err)
		}
		ph := fmt.Sprintf("f%d", i)
		i++
		exprNames["#"+ph] = name
		exprValues[":"+ph] = av
		filters = append(filters, fmt.Sprintf("#%s = :%s", ph, ph))
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.Table),
		IndexName:                 aws.String(s.config.Index),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	}
	if len(filters) > 0 {
		input.FilterExpression = aws.String(strings.Join(filters, " AND "))
	}
	if q.KeysOnly {
		input.ProjectionExpression = aws.String(attrPK)
	}

	return &queryIterator{
		store:     s,
		schema:    schema,
		conv:      conv,
		ctx:       ctx,
		paginator: dynamodb.NewQueryPaginator(s.client, input),
		keysOnly:  q.KeysOnly,
		limit:     q.Limit,
	}, nil
}

type queryIterator struct {
	store     *Store
	schema    *record.Schema
	conv      *record.Converter
	ctx       context.Context
	paginator *dynamodb.QueryPaginator
	page      []map[string]types.AttributeValue
	keysOnly  bool
	limit     int
	count     int
}

func (it *queryIterator) Next() (*record.Record, error) {
	if it.limit > 0 && it.count >= it.limit {
		return nil, record.ErrDone
	}
	for len(it.page) == 0 {
		if !it.paginator.HasMorePages() {
			return nil, record.ErrDone
		}
		page, err := it.paginator.NextPage(it.ctx)
		if err != nil {
			return nil, err
		}
		it.page = page.Items
	}
	item := it.page[0]
	it.page = it.page[1:]
	it.count++

	if it.keysOnly {
		id, err := record.ParsePath(stringAttr(item, attrPK))
		if err != nil {
			return nil, err
		}
		rec := record.NewRecord(it.schema)
		if err := rec.Bind(id); err != nil {
			return nil, err
		}
		return rec, nil
	}
	return it.store.unmarshalRecord(item)
}

func identityFor(rec *record.Record) record.Identity {
	key := rec.Key()
	switch {
	case key == nil:
		return record.NewIdentity(rec.Schema().Name(), uuid.NewString())
	case key.Complete():
		return *key
	case key.Parent() != nil:
		return record.NewChildIdentity(*key.Parent(), key.Kind(), uuid.NewString())
	default:
		return record.NewIdentity(key.Kind(), uuid.NewString())
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if item == nil {
		return ""
	}
	if av, ok := item[name].(*types.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}
