package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	"fintrack/internal/remote"
)

// streamARN はレコードテーブルの DynamoDB Streams ARN を返す
func (c *Client) streamARN(ctx context.Context) (string, error) {
	out, err := c.db.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &c.recordTable})
	if err != nil {
		return "", fmt.Errorf("テーブル情報の取得に失敗: %w", err)
	}
	if out.Table == nil || out.Table.LatestStreamArn == nil {
		return "", errors.New("レコードテーブルのストリームが有効になっていません")
	}
	return *out.Table.LatestStreamArn, nil
}

// pollStream は ctx が終わるまでストリームを読み、userID の変更だけを ch に流す
func (c *Client) pollStream(ctx context.Context, arn, userID string, ch chan<- remote.Change) {
	defer close(ch)

	// shardID → iterator。閉じたシャードは nil のまま残し、再取得しない
	iters := make(map[string]*string)
	initial := true
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := c.discoverShards(ctx, arn, iters, initial); err != nil && ctx.Err() == nil {
			c.log.Error(ctx, "stream shard discovery failed", "err", err)
		}
		initial = false

		for shardID, it := range iters {
			if it == nil {
				continue
			}
			out, err := c.streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: it})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				var expired *streamtypes.ExpiredIteratorException
				if errors.As(err, &expired) {
					delete(iters, shardID)
					continue
				}
				c.log.Error(ctx, "stream read failed", "shard", shardID, "err", err)
				continue
			}
			for _, r := range out.Records {
				change, ok := toChange(r, userID)
				if !ok {
					continue
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			}
			iters[shardID] = out.NextShardIterator
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// discoverShards は未知のシャードの iterator を取得する。
// 購読開始時は LATEST、その後に現れた子シャードは TRIM_HORIZON から読む
func (c *Client) discoverShards(ctx context.Context, arn string, iters map[string]*string, initial bool) error {
	var start *string
	for {
		out, err := c.streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(arn),
			ExclusiveStartShardId: start,
		})
		if err != nil {
			return fmt.Errorf("ストリーム情報の取得に失敗: %w", err)
		}
		desc := out.StreamDescription
		if desc == nil {
			return nil
		}
		for _, sh := range desc.Shards {
			id := aws.ToString(sh.ShardId)
			if _, known := iters[id]; known {
				continue
			}
			closed := sh.SequenceNumberRange != nil && sh.SequenceNumberRange.EndingSequenceNumber != nil
			if initial && closed {
				iters[id] = nil
				continue
			}
			iterType := streamtypes.ShardIteratorTypeTrimHorizon
			if initial {
				iterType = streamtypes.ShardIteratorTypeLatest
			}
			it, err := c.streams.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
				StreamArn:         aws.String(arn),
				ShardId:           sh.ShardId,
				ShardIteratorType: iterType,
			})
			if err != nil {
				return fmt.Errorf("シャード %s の iterator 取得に失敗: %w", id, err)
			}
			iters[id] = it.ShardIterator
		}
		if desc.LastEvaluatedShardId == nil {
			return nil
		}
		start = desc.LastEvaluatedShardId
	}
}

// toChange はストリームレコードを変更通知にする（他ユーザーのレコードは false）
func toChange(r streamtypes.Record, userID string) (remote.Change, bool) {
	if r.Dynamodb == nil {
		return remote.Change{}, false
	}
	uid, ok := r.Dynamodb.Keys["userId"].(*streamtypes.AttributeValueMemberS)
	if !ok || uid.Value != userID {
		return remote.Change{}, false
	}
	key, ok := r.Dynamodb.Keys["key"].(*streamtypes.AttributeValueMemberS)
	if !ok {
		return remote.Change{}, false
	}
	coll, id, ok := splitKey(key.Value)
	if !ok {
		return remote.Change{}, false
	}
	var op remote.OpKind
	switch r.EventName {
	case streamtypes.OperationTypeInsert:
		op = remote.OpInsert
	case streamtypes.OperationTypeModify:
		op = remote.OpUpdate
	case streamtypes.OperationTypeRemove:
		op = remote.OpDelete
	default:
		return remote.Change{}, false
	}
	return remote.Change{Collection: coll, Op: op, ID: id}, true
}
