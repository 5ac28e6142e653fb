package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatsync/internal/domain"
)

const (
	skPrefixPref = "PREF#"
	skSelected   = skPrefixPref + "selected_variation"
	skMinted     = skPrefixPref + "minted"
	ttlDuration  = 180 * 24 * time.Hour // refreshed on every write
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores per-conversation preferences in a single DynamoDB table.
// It implements usecase.PreferenceStore.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// LoadPreferences reads every PREF# item of a conversation. Missing items
// leave the zero value in place.
func (c *Client) LoadPreferences(ctx context.Context, conversationID string) (domain.Preferences, error) {
	var prefs domain.Preferences
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixPref},
		},
		ConsistentRead: aws.Bool(true),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return prefs, fmt.Errorf("repository: LoadPreferences query: %w", err)
	}
	if out == nil {
		return prefs, nil
	}
	for _, item := range out.Items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return prefs, fmt.Errorf("repository: LoadPreferences: %w", err)
		}
		switch sk {
		case skSelected:
			v, err := itemToVariation(item)
			if err != nil {
				return prefs, fmt.Errorf("repository: LoadPreferences decode selection: %w", err)
			}
			prefs.SelectedVariation = &v
		case skMinted:
			minted, err := boolAttr(item, "minted")
			if err != nil {
				return prefs, fmt.Errorf("repository: LoadPreferences decode minted: %w", err)
			}
			prefs.Minted = minted
		}
	}
	return prefs, nil
}

// SaveSelectedVariation replaces the conversation's selected variation.
func (c *Client) SaveSelectedVariation(ctx context.Context, conversationID string, v domain.Variation) error {
	if v.Token == "" || v.URL == "" {
		return errors.New("repository: SaveSelectedVariation: token and url are required")
	}
	item := c.baseItem(conversationID, skSelected)
	item["token"] = &types.AttributeValueMemberS{Value: v.Token}
	item["url"] = &types.AttributeValueMemberS{Value: v.URL}

	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: SaveSelectedVariation: %w", err)
	}
	return nil
}

// SaveMinted writes the conversation's minted flag.
func (c *Client) SaveMinted(ctx context.Context, conversationID string, minted bool) error {
	item := c.baseItem(conversationID, skMinted)
	item["minted"] = &types.AttributeValueMemberBOOL{Value: minted}

	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: SaveMinted: %w", err)
	}
	return nil
}

func (c *Client) baseItem(conversationID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK":             &types.AttributeValueMemberS{Value: sk},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"updatedAt":      &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

func itemToVariation(item map[string]types.AttributeValue) (domain.Variation, error) {
	token, err := strAttr(item, "token")
	if err != nil {
		return domain.Variation{}, err
	}
	url, err := strAttr(item, "url")
	if err != nil {
		return domain.Variation{}, err
	}
	return domain.Variation{Token: token, URL: url}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a boolean", key)
	}
	return b.Value, nil
}
