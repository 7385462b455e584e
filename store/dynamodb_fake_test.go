package store_test

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory DynamoDB table that understands exactly the
// condition expressions DynamoStore sends.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	// pageSize is small so List goes through several Scan pages.
	pageSize int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func keyID(key map[string]types.AttributeValue) string {
	if v, ok := key["id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func dataOf(item map[string]types.AttributeValue) []byte {
	if v, ok := item["data"].(*types.AttributeValueMemberB); ok {
		return v.Value
	}
	return nil
}

func conditionFailed(old map[string]types.AttributeValue) error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
		Item:    old,
	}
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyID(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := keyID(in.Item)
	cur, exists := f.items[id]
	switch cond := aws.ToString(in.ConditionExpression); cond {
	case "":
	case "attribute_not_exists(#id)":
		if exists {
			return nil, conditionFailed(nil)
		}
	case "attribute_exists(#id) AND #data = :old":
		if !exists {
			return nil, conditionFailed(nil)
		}
		old := in.ExpressionAttributeValues[":old"].(*types.AttributeValueMemberB).Value
		if !bytes.Equal(dataOf(cur), old) {
			if in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
				return nil, conditionFailed(cur)
			}
			return nil, conditionFailed(nil)
		}
	default:
		return nil, fmt.Errorf("fake dynamodb: unsupported condition %q", cond)
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := keyID(in.Key)
	if aws.ToString(in.ConditionExpression) == "attribute_exists(#id)" {
		if _, ok := f.items[id]; !ok {
			return nil, conditionFailed(nil)
		}
	}
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := 0
	if in.ExclusiveStartKey != nil {
		after := keyID(in.ExclusiveStartKey)
		start = sort.SearchStrings(ids, after)
		if start < len(ids) && ids[start] == after {
			start++
		}
	}
	end := min(start+f.pageSize, len(ids))
	out := &dynamodb.ScanOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		})
	}
	out.Count = int32(len(out.Items))
	if end < len(ids) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: ids[end-1]},
		}
	}
	return out, nil
}
