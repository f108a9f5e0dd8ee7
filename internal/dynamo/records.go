package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"fintrack/internal/remote"
)

// TransactWriteItems の上限
const maxTransactItems = 100

// userStore は1ユーザー分のレコードを扱う remote.Store
type userStore struct {
	c      *Client
	userID string
}

var _ remote.Batcher = (*userStore)(nil)

// recordKey は SK を "<collection>#<id>" の形にする
func recordKey(c remote.Collection, id string) string {
	return string(c) + "#" + id
}

// splitKey は SK を collection と id に分ける
func splitKey(key string) (remote.Collection, string, bool) {
	c, id, ok := strings.Cut(key, "#")
	if !ok || c == "" || id == "" {
		return "", "", false
	}
	return remote.Collection(c), id, true
}

func (s *userStore) key(c remote.Collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: s.userID},
		"key":    &types.AttributeValueMemberS{Value: recordKey(c, id)},
	}
}

// toItem は行にキー属性を付けてマーシャルする
func (s *userStore) toItem(c remote.Collection, row remote.Row) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(map[string]any(row))
	if err != nil {
		return nil, fmt.Errorf("%s のマーシャルに失敗: %w", c, err)
	}
	av["userId"] = &types.AttributeValueMemberS{Value: s.userID}
	av["key"] = &types.AttributeValueMemberS{Value: recordKey(c, row.ID())}
	av["collection"] = &types.AttributeValueMemberS{Value: string(c)}
	return av, nil
}

// fromItem はキー属性を除いた行を返す
func fromItem(item map[string]types.AttributeValue) (remote.Row, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, fmt.Errorf("レコードのアンマーシャルに失敗: %w", err)
	}
	delete(m, "userId")
	delete(m, "key")
	delete(m, "collection")
	return remote.Row(m), nil
}

func (s *userStore) FetchAll(ctx context.Context, c remote.Collection) ([]remote.Row, error) {
	var allItems []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue

	for {
		out, err := s.c.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              &s.c.recordTable,
			KeyConditionExpression: aws.String("userId = :u AND begins_with(#k, :p)"),
			ExpressionAttributeNames: map[string]string{
				"#k": "key",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":u": &types.AttributeValueMemberS{Value: s.userID},
				":p": &types.AttributeValueMemberS{Value: string(c) + "#"},
			},
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%s のクエリに失敗: %w", c, err)
		}
		allItems = append(allItems, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		lastKey = out.LastEvaluatedKey
	}

	rows := make([]remote.Row, 0, len(allItems))
	for _, item := range allItems {
		row, err := fromItem(item)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if c == remote.Transactions {
		remote.SortTransactionRows(rows)
	} else {
		sortByCreatedAt(rows)
	}
	return rows, nil
}

// sortByCreatedAt は作成順に並べる（SK は id 順なので作成順にはならない）
func sortByCreatedAt(rows []remote.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		ci, _ := rows[i]["created_at"].(string)
		cj, _ := rows[j]["created_at"].(string)
		return ci < cj
	})
}

func (s *userStore) Insert(ctx context.Context, c remote.Collection, row remote.Row) (remote.Row, error) {
	row = remote.PrepareInsert(row, time.Now())
	item, err := s.toItem(c, row)
	if err != nil {
		return nil, err
	}
	_, err = s.c.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &s.c.recordTable,
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
	})
	if err != nil {
		return nil, fmt.Errorf("%s の保存に失敗: %w", c, err)
	}
	return row, nil
}

// updateExpression は patch から SET 式を組み立てる（属性名はプレースホルダにする）
func updateExpression(patch remote.Row) (string, map[string]string, map[string]types.AttributeValue, error) {
	fields := make([]string, 0, len(patch))
	for f := range patch {
		if f == "id" || f == "userId" || f == "key" || f == "collection" {
			continue
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return "", nil, nil, errors.New("更新する項目がありません")
	}
	sort.Strings(fields)

	names := map[string]string{"#k": "key"}
	values := make(map[string]types.AttributeValue, len(fields))
	sets := make([]string, len(fields))
	for i, f := range fields {
		av, err := attributevalue.Marshal(patch[f])
		if err != nil {
			return "", nil, nil, fmt.Errorf("%s のマーシャルに失敗: %w", f, err)
		}
		n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		names[n] = f
		values[v] = av
		sets[i] = n + " = " + v
	}
	return "SET " + strings.Join(sets, ", "), names, values, nil
}

func (s *userStore) Update(ctx context.Context, c remote.Collection, id string, patch remote.Row) error {
	expr, names, values, err := updateExpression(patch)
	if err != nil {
		return err
	}
	_, err = s.c.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.c.recordTable,
		Key:                       s.key(c, id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s/%s: %w", c, id, remote.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s の更新に失敗: %w", c, err)
	}
	return nil
}

func (s *userStore) Delete(ctx context.Context, c remote.Collection, id string) error {
	_, err := s.c.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.c.recordTable,
		Key:       s.key(c, id),
	})
	if err != nil {
		return fmt.Errorf("%s の削除に失敗: %w", c, err)
	}
	return nil
}

// Apply は ops を TransactWriteItems で1トランザクションとして書き込む
func (s *userStore) Apply(ctx context.Context, ops []remote.Op) ([]remote.Row, error) {
	if len(ops) > maxTransactItems {
		return nil, fmt.Errorf("一度に書き込めるのは %d 件までです (%d 件)", maxTransactItems, len(ops))
	}
	now := time.Now()
	results := make([]remote.Row, len(ops))
	items := make([]types.TransactWriteItem, 0, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case remote.OpInsert:
			row := remote.PrepareInsert(op.Row, now)
			item, err := s.toItem(op.Collection, row)
			if err != nil {
				return nil, err
			}
			results[i] = row
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:                &s.c.recordTable,
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#k)"),
				ExpressionAttributeNames: map[string]string{"#k": "key"},
			}})
		case remote.OpUpdate:
			expr, names, values, err := updateExpression(op.Row)
			if err != nil {
				return nil, err
			}
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:                 &s.c.recordTable,
				Key:                       s.key(op.Collection, op.ID),
				UpdateExpression:          aws.String(expr),
				ConditionExpression:       aws.String("attribute_exists(#k)"),
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}})
		case remote.OpDelete:
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: &s.c.recordTable,
				Key:       s.key(op.Collection, op.ID),
			}})
		default:
			return nil, fmt.Errorf("unknown op kind %q", op.Kind)
		}
	}

	_, err := s.c.db.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, r := range tce.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" && i < len(ops) && ops[i].Kind == remote.OpUpdate {
				return nil, fmt.Errorf("%s/%s: %w", ops[i].Collection, ops[i].ID, remote.ErrNotFound)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("トランザクション書き込みに失敗: %w", err)
	}
	return results, nil
}

func (s *userStore) Subscribe(ctx context.Context) (<-chan remote.Change, error) {
	arn, err := s.c.streamARN(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan remote.Change, 16)
	go s.c.pollStream(ctx, arn, s.userID, ch)
	return ch, nil
}
