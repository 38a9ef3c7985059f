package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/awsutil"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

const (
	dynamoPropertyKey       = "PropertyId"
	dynamoBatchGetLimit     = 100
	dynamoUnprocessedRounds = 5
)

type dynamoImageItem struct {
	Key         string    `dynamodbav:"Key"`
	ContentHash string    `dynamodbav:"ContentHash"`
	SizeBytes   int64     `dynamodbav:"SizeBytes"`
	ContentType string    `dynamodbav:"ContentType,omitempty"`
	Source      string    `dynamodbav:"Source,omitempty"`
	Origin      string    `dynamodbav:"Origin,omitempty"`
	CapturedAt  time.Time `dynamodbav:"CapturedAt"`
}

type dynamoPropertyItem struct {
	PropertyID string            `dynamodbav:"PropertyId"`
	Images     []dynamoImageItem `dynamodbav:"Images"`
	// ImageIds mirrors the blob keys as a string set for readers that only know the legacy schema.
	ImageIDs    []string  `dynamodbav:"ImageIds,stringset,omitempty"`
	LastUpdated time.Time `dynamodbav:"LastUpdated"`
	Version     int64     `dynamodbav:"Version"`
}

func (i *dynamoPropertyItem) toRecord() *models.PropertyRecord {
	record := models.NewPropertyRecord(i.PropertyID)
	record.LastUpdated = i.LastUpdated.UTC()
	for _, img := range i.Images {
		record.Images = append(record.Images, models.ImageRef{
			Key:         img.Key,
			ContentHash: img.ContentHash,
			SizeBytes:   img.SizeBytes,
			ContentType: img.ContentType,
			Source:      enum.ImageSource(img.Source),
			Origin:      img.Origin,
			CapturedAt:  img.CapturedAt.UTC(),
		})
	}
	return record
}

func newDynamoPropertyItem(record *models.PropertyRecord, version int64) *dynamoPropertyItem {
	item := &dynamoPropertyItem{
		PropertyID:  record.ID,
		LastUpdated: record.LastUpdated,
		Version:     version,
		Images:      make([]dynamoImageItem, 0, len(record.Images)),
	}
	for _, ref := range record.Images {
		item.Images = append(item.Images, dynamoImageItem{
			Key:         ref.Key,
			ContentHash: ref.ContentHash,
			SizeBytes:   ref.SizeBytes,
			ContentType: ref.ContentType,
			Source:      string(ref.Source),
			Origin:      ref.Origin,
			CapturedAt:  ref.CapturedAt,
		})
		item.ImageIDs = append(item.ImageIDs, ref.Key)
	}
	return item
}

type dynamoPropertyRepository struct {
	client       dynamodbiface.DynamoDBAPI
	table        string
	maxImages    int
	maxConflicts int
	now          func() time.Time
}

func NewDynamoPropertyRepository(client dynamodbiface.DynamoDBAPI, table string, maxImages, maxConflicts int) interfaces.PropertyImageStore {
	if maxConflicts <= 0 {
		maxConflicts = 5
	}
	return &dynamoPropertyRepository{
		client:       client,
		table:        table,
		maxImages:    maxImages,
		maxConflicts: maxConflicts,
		now:          utils.Now,
	}
}

func propertyKey(propertyID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		dynamoPropertyKey: {S: aws.String(propertyID)},
	}
}

func (r *dynamoPropertyRepository) getItem(ctx context.Context, propertyID string) (*dynamoPropertyItem, error) {
	out, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            propertyKey(propertyID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, awsutil.ClassifyError("dynamoPropertyRepository.GetItem", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item dynamoPropertyItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, errors.Wrap(err, "failed to decode property item")
	}
	return &item, nil
}

func (r *dynamoPropertyRepository) Get(ctx context.Context, propertyID string) (*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dynamoPropertyRepository.Get")
	defer span.Finish()
	tracing.SetDefaultDynamoRepositorySpanTags(ctx, span)
	tracing.TagProperty(span, propertyID)

	item, err := r.getItem(ctx, propertyID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if item == nil {
		return nil, imagestack_errors.NotFound("dynamoPropertyRepository.Get", imagestack_errors.ErrRecordNotFound)
	}
	return item.toRecord(), nil
}

func (r *dynamoPropertyRepository) BatchGet(ctx context.Context, propertyIDs []string) (map[string]*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dynamoPropertyRepository.BatchGet")
	defer span.Finish()
	tracing.SetDefaultDynamoRepositorySpanTags(ctx, span)
	span.LogKV("count", len(propertyIDs))

	result := make(map[string]*models.PropertyRecord, len(propertyIDs))
	for _, chunk := range utils.Chunk(utils.UniqueStrings(propertyIDs), dynamoBatchGetLimit) {
		if err := r.batchGetChunk(ctx, chunk, result); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	return result, nil
}

func (r *dynamoPropertyRepository) batchGetChunk(ctx context.Context, ids []string, result map[string]*models.PropertyRecord) error {
	keys := make([]map[string]*dynamodb.AttributeValue, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, propertyKey(id))
	}
	request := map[string]*dynamodb.KeysAndAttributes{
		r.table: {Keys: keys, ConsistentRead: aws.Bool(true)},
	}

	b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	for round := 0; round < dynamoUnprocessedRounds; round++ {
		out, err := r.client.BatchGetItemWithContext(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return awsutil.ClassifyError("dynamoPropertyRepository.BatchGet", err)
		}
		for _, raw := range out.Responses[r.table] {
			var item dynamoPropertyItem
			if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
				return errors.Wrap(err, "failed to decode property item")
			}
			result[item.PropertyID] = item.toRecord()
		}
		unprocessed, ok := out.UnprocessedKeys[r.table]
		if !ok || unprocessed == nil || len(unprocessed.Keys) == 0 {
			return nil
		}
		request = out.UnprocessedKeys

		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return imagestack_errors.Transient("dynamoPropertyRepository.BatchGet", ctx.Err())
		case <-timer.C:
		}
	}
	return imagestack_errors.Capacity("dynamoPropertyRepository.BatchGet", errors.New("unprocessed keys remain after retries"))
}

// Upsert is an optimistic read-merge-write guarded by the item Version.
func (r *dynamoPropertyRepository) Upsert(ctx context.Context, propertyID string, refs []models.ImageRef) (*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dynamoPropertyRepository.Upsert")
	defer span.Finish()
	tracing.SetDefaultDynamoRepositorySpanTags(ctx, span)
	tracing.TagProperty(span, propertyID)

	if err := validatePropertyID(propertyID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	for attempt := 1; attempt <= r.maxConflicts; attempt++ {
		current, err := r.getItem(ctx, propertyID)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}

		record := models.NewPropertyRecord(propertyID)
		var version int64
		if current != nil {
			record = current.toRecord()
			version = current.Version
		}
		record.Images, _ = models.MergeImages(record.Images, refs, r.maxImages)
		record.LastUpdated = utils.MaxTime(record.LastUpdated, r.now())

		av, err := dynamodbattribute.MarshalMap(newDynamoPropertyItem(record, version+1))
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to encode property item")
		}

		input := &dynamodb.PutItemInput{
			TableName: aws.String(r.table),
			Item:      av,
		}
		switch {
		case current == nil:
			input.ConditionExpression = aws.String("attribute_not_exists(PropertyId)")
		case version == 0:
			input.ConditionExpression = aws.String("attribute_not_exists(#v) OR #v = :v")
			input.ExpressionAttributeNames = map[string]*string{"#v": aws.String("Version")}
			input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{":v": {N: aws.String("0")}}
		default:
			input.ConditionExpression = aws.String("#v = :v")
			input.ExpressionAttributeNames = map[string]*string{"#v": aws.String("Version")}
			input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
				":v": {N: aws.String(strconv.FormatInt(version, 10))},
			}
		}

		_, err = r.client.PutItemWithContext(ctx, input)
		if err == nil {
			return record, nil
		}
		if awsutil.IsConditionalCheckFailed(err) {
			span.LogKV("conflict.attempt", attempt)
			continue
		}
		err = awsutil.ClassifyError("dynamoPropertyRepository.Upsert", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	err := imagestack_errors.Transient("dynamoPropertyRepository.Upsert", imagestack_errors.ErrUpsertConflict)
	tracing.TraceErr(span, err)
	return nil, err
}
