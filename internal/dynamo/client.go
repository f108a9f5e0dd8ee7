package dynamo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/vmkteam/embedlog"

	"fintrack/internal/model"
	"fintrack/internal/remote"
)

// Config は DynamoDB クライアントの設定
type Config struct {
	Region       string
	RecordTable  string // userId (PK) + key (SK = "<collection>#<id>")
	MasterTable  string // type (PK) + id (SK)。ユーザーは type="user", id=email
	PollInterval time.Duration
}

// Client は DynamoDB クライアント
type Client struct {
	db           *dynamodb.Client
	streams      *dynamodbstreams.Client
	log          embedlog.Logger
	recordTable  string
	masterTable  string
	pollInterval time.Duration
}

var (
	instance *Client
	once     sync.Once
	initErr  error
)

// NewClient は DynamoDB クライアントを生成する（sync.Once でシングルトン）
func NewClient(ctx context.Context, cfg Config, log embedlog.Logger) (*Client, error) {
	once.Do(func() {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			initErr = fmt.Errorf("AWS config の読み込みに失敗: %w", err)
			return
		}
		interval := cfg.PollInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}
		instance = &Client{
			db:           dynamodb.NewFromConfig(awsCfg),
			streams:      dynamodbstreams.NewFromConfig(awsCfg),
			log:          log,
			recordTable:  cfg.RecordTable,
			masterTable:  cfg.MasterTable,
			pollInterval: interval,
		}
	})
	if initErr != nil {
		return nil, initErr
	}
	return instance, nil
}

// --- DynamoDB 内部アイテム型 ---

// userItem は DynamoDB master テーブルのユーザーアイテム
type userItem struct {
	Type         string `dynamodbav:"type"`
	ID           string `dynamodbav:"id"`
	UserID       string `dynamodbav:"userId"`
	PasswordHash string `dynamodbav:"passwordHash"`
	SessionEpoch int    `dynamodbav:"sessionEpoch"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

func (item *userItem) toModel() *model.User {
	return &model.User{
		ID:           item.UserID,
		Email:        item.ID,
		PasswordHash: item.PasswordHash,
		SessionEpoch: item.SessionEpoch,
		CreatedAt:    item.CreatedAt,
	}
}

func userFromModel(u *model.User) userItem {
	return userItem{
		Type:         "user",
		ID:           strings.ToLower(u.Email),
		UserID:       u.ID,
		PasswordHash: u.PasswordHash,
		SessionEpoch: u.SessionEpoch,
		CreatedAt:    u.CreatedAt,
	}
}

// --- User 操作 ---

// UserByEmail はメールアドレスでユーザーを取得する（nil = 未登録）
func (c *Client) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	out, err := c.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &c.masterTable,
		Key: map[string]types.AttributeValue{
			"type": &types.AttributeValueMemberS{Value: "user"},
			"id":   &types.AttributeValueMemberS{Value: strings.ToLower(email)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("user の取得に失敗: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("user のアンマーシャルに失敗: %w", err)
	}
	return item.toModel(), nil
}

// PutUser はユーザーを保存する（作成・更新兼用）
func (c *Client) PutUser(ctx context.Context, u *model.User) error {
	av, err := attributevalue.MarshalMap(userFromModel(u))
	if err != nil {
		return fmt.Errorf("user のマーシャルに失敗: %w", err)
	}
	_, err = c.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &c.masterTable,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("user の保存に失敗: %w", err)
	}
	return nil
}

// ForUser は userID にスコープされた remote.Store を返す
func (c *Client) ForUser(userID string) remote.Store {
	return &userStore{c: c, userID: userID}
}
