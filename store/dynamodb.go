package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoClient is the subset of *dynamodb.Client used by DynamoStore.
type DynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	dynamodb.ScanAPIClient
}

// DynamoStore stores records as items of a DynamoDB table whose partition
// key is the string attribute "id".
//
// Item layout:
//
//	id        S  record identifier
//	data      B  record bytes
//	modified  N  last write time, Unix nanoseconds
//
// Conditional writes make Create and Swap safe across processes.
type DynamoStore struct {
	client DynamoClient
	table  string
	now    func() time.Time
}

type dynamoRecord struct {
	ID       string `dynamodbav:"id"`
	Data     []byte `dynamodbav:"data"`
	Modified int64  `dynamodbav:"modified"`
}

// "data" is a DynamoDB reserved word, so every expression goes through names.
var dynamoNames = map[string]string{"#id": "id", "#data": "data"}

func NewDynamoStore(client DynamoClient, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

func dynamoKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func (s *DynamoStore) item(id string, data []byte) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(dynamoRecord{ID: id, Data: data, Modified: s.now().UnixNano()})
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return item, nil
}

func (s *DynamoStore) get(ctx context.Context, id string) (*dynamoRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            dynamoKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

func (s *DynamoStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.table),
		Key:                      dynamoKey(id),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	if err != nil {
		return false, err
	}
	return len(out.Item) > 0, nil
}

func (s *DynamoStore) Read(ctx context.Context, id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

func (s *DynamoStore) Write(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	item, err := s.item(id, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

func (s *DynamoStore) Create(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	item, err := s.item(id, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *DynamoStore) Swap(ctx context.Context, id string, old, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	item, err := s.item(id, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(#id) AND #data = :old"),
		ExpressionAttributeNames: dynamoNames,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":old": &types.AttributeValueMemberB{Value: old},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if len(condErr.Item) == 0 {
				return ErrNotFound
			}
			return ErrModified
		}
		return err
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.table),
		Key:                      dynamoKey(id),
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *DynamoStore) ModTime(ctx context.Context, id string) (time.Time, error) {
	if err := checkID(id); err != nil {
		return time.Time{}, err
	}
	rec, err := s.get(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, rec.Modified), nil
}

func (s *DynamoStore) List(ctx context.Context) ([]string, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
		ConsistentRead:           aws.Bool(true),
	})
	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			v, ok := raw["id"].(*types.AttributeValueMemberS)
			if !ok || !ValidID(v.Value) {
				continue
			}
			ids = append(ids, v.Value)
		}
	}
	return ids, nil
}
