package repository

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/awsutil"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

const dynamoCursorKey = "SubscriptionId"

type dynamoPendingItem struct {
	PropertyID string    `dynamodbav:"PropertyId"`
	ImageURLs  []string  `dynamodbav:"ImageUrls,omitempty"`
	ListingURL string    `dynamodbav:"ListingUrl,omitempty"`
	Attempts   int       `dynamodbav:"Attempts"`
	LastError  string    `dynamodbav:"LastError,omitempty"`
	UpdatedAt  time.Time `dynamodbav:"UpdatedAt"`
}

type dynamoCursorItem struct {
	SubscriptionID string              `dynamodbav:"SubscriptionId"`
	Offset         int                 `dynamodbav:"Offset"`
	Pending        []dynamoPendingItem `dynamodbav:"Pending"`
	UpdatedAt      time.Time           `dynamodbav:"UpdatedAt"`
}

type dynamoCursorRepository struct {
	client dynamodbiface.DynamoDBAPI
	table  string
}

func NewDynamoCursorRepository(client dynamodbiface.DynamoDBAPI, table string) interfaces.CursorStore {
	return &dynamoCursorRepository{client: client, table: table}
}

func (r *dynamoCursorRepository) Load(ctx context.Context, subscriptionID string) (*models.CursorState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dynamoCursorRepository.Load")
	defer span.Finish()
	tracing.SetDefaultDynamoRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagSubscriptionId, subscriptionID)

	out, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]*dynamodb.AttributeValue{
			dynamoCursorKey: {S: aws.String(subscriptionID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		err = awsutil.ClassifyError("dynamoCursorRepository.Load", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	state := &models.CursorState{SubscriptionID: subscriptionID}
	if len(out.Item) == 0 {
		return state, nil
	}

	var item dynamoCursorItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to decode cursor item")
	}
	state.Offset = item.Offset
	state.UpdatedAt = item.UpdatedAt.UTC()
	for _, p := range item.Pending {
		state.Pending = append(state.Pending, models.PendingEntry{
			Entry:     models.FeedEntry{PropertyID: p.PropertyID, ImageURLs: p.ImageURLs, ListingURL: p.ListingURL},
			Attempts:  p.Attempts,
			LastError: p.LastError,
			UpdatedAt: p.UpdatedAt.UTC(),
		})
	}
	return state, nil
}

func (r *dynamoCursorRepository) Save(ctx context.Context, state *models.CursorState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dynamoCursorRepository.Save")
	defer span.Finish()
	tracing.SetDefaultDynamoRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagSubscriptionId, state.SubscriptionID)

	item := dynamoCursorItem{
		SubscriptionID: state.SubscriptionID,
		Offset:         state.Offset,
		Pending:        make([]dynamoPendingItem, 0, len(state.Pending)),
		UpdatedAt:      utils.Now(),
	}
	for _, p := range state.Pending {
		item.Pending = append(item.Pending, dynamoPendingItem{
			PropertyID: p.Entry.PropertyID,
			ImageURLs:  p.Entry.ImageURLs,
			ListingURL: p.Entry.ListingURL,
			Attempts:   p.Attempts,
			LastError:  p.LastError,
			UpdatedAt:  p.UpdatedAt,
		})
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to encode cursor item")
	}
	_, err = r.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	if err != nil {
		err = awsutil.ClassifyError("dynamoCursorRepository.Save", err)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
