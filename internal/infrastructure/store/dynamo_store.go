package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/ec-order-engine/internal/domain/order"
	"github.com/example/ec-order-engine/internal/domain/product"
	"github.com/example/ec-order-engine/internal/domain/user"
)

// DynamoStore keeps products, orders and users in DynamoDB tables.
// Stock mutation relies on conditional update expressions, which gives the
// ledger its single-document "decrement only if stock >= n" primitive.
type DynamoStore struct {
	client        *dynamodb.Client
	productsTable string
	ordersTable   string
	usersTable    string
}

func NewDynamoStore(client *dynamodb.Client, productsTable, ordersTable, usersTable string) *DynamoStore {
	return &DynamoStore{
		client:        client,
		productsTable: productsTable,
		ordersTable:   ordersTable,
		usersTable:    usersTable,
	}
}

// dynamoProduct is the DynamoDB item structure for a product.
type dynamoProduct struct {
	ID         string `dynamodbav:"id"`
	Name       string `dynamodbav:"name"`
	PriceCents int64  `dynamodbav:"price_cents"`
	Stock      int    `dynamodbav:"stock"`
	Active     bool   `dynamodbav:"active"`
	CreatedAt  string `dynamodbav:"created_at"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

func (s *DynamoStore) PutProduct(ctx context.Context, p *product.Product) error {
	item := dynamoProduct{
		ID:         p.ID,
		Name:       p.Name,
		PriceCents: p.PriceCents,
		Stock:      p.Stock,
		Active:     p.Active,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  p.UpdatedAt.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.productsTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put product: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if result.Item == nil {
		return nil, product.ErrProductNotFound
	}

	var dp dynamoProduct
	if err := attributevalue.UnmarshalMap(result.Item, &dp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, dp.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, dp.UpdatedAt)

	return &product.Product{
		ID:         dp.ID,
		Name:       dp.Name,
		PriceCents: dp.PriceCents,
		Stock:      dp.Stock,
		Active:     dp.Active,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

// DecrementStock applies a conditional atomic decrement. The condition
// expression rejects the write when stock < qty, so stock can never go
// negative no matter how requests interleave.
func (s *DynamoStore) DecrementStock(ctx context.Context, productID string, qty int) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    aws.String("SET stock = stock - :q, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id) AND stock >= :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", qty)},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrInsufficientStock
		}
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	return nil
}

// IncrementStock restores stock unconditionally.
func (s *DynamoStore) IncrementStock(ctx context.Context, productID string, qty int) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.productsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    aws.String("SET stock = stock + :q, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", qty)},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return product.ErrProductNotFound
		}
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	return nil
}

// dynamoOrder is the DynamoDB item structure for an order. Lines are held
// as a JSON document so the snapshot round-trips unchanged.
type dynamoOrder struct {
	ID                 string `dynamodbav:"id"`
	UserID             string `dynamodbav:"user_id"`
	Lines              string `dynamodbav:"lines"`
	ShippingAddress    string `dynamodbav:"shipping_address"`
	SubtotalCents      int64  `dynamodbav:"subtotal_cents"`
	TaxCents           int64  `dynamodbav:"tax_cents"`
	ShippingCents      int64  `dynamodbav:"shipping_cents"`
	TotalCents         int64  `dynamodbav:"total_cents"`
	PaymentMethod      string `dynamodbav:"payment_method"`
	PaymentStatus      string `dynamodbav:"payment_status"`
	Status             string `dynamodbav:"status"`
	TrackingNumber     string `dynamodbav:"tracking_number,omitempty"`
	EstimatedDelivery  string `dynamodbav:"estimated_delivery,omitempty"`
	ExternalPaymentRef string `dynamodbav:"external_payment_ref,omitempty"`
	CreatedAt          string `dynamodbav:"created_at"`
	UpdatedAt          string `dynamodbav:"updated_at"`
}

func marshalDynamoOrder(o *order.Order) (map[string]types.AttributeValue, error) {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order lines: %w", err)
	}

	item := dynamoOrder{
		ID:                 o.ID,
		UserID:             o.UserID,
		Lines:              string(lines),
		ShippingAddress:    o.ShippingAddress,
		SubtotalCents:      o.SubtotalCents,
		TaxCents:           o.TaxCents,
		ShippingCents:      o.ShippingCents,
		TotalCents:         o.TotalCents,
		PaymentMethod:      string(o.PaymentMethod),
		PaymentStatus:      string(o.PaymentStatus),
		Status:             string(o.Status),
		TrackingNumber:     o.TrackingNumber,
		ExternalPaymentRef: o.ExternalPaymentRef,
		CreatedAt:          o.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:          o.UpdatedAt.Format(time.RFC3339Nano),
	}
	if o.EstimatedDelivery != nil {
		item.EstimatedDelivery = o.EstimatedDelivery.Format(time.RFC3339Nano)
	}

	return attributevalue.MarshalMap(item)
}

func unmarshalDynamoOrder(item map[string]types.AttributeValue) (*order.Order, error) {
	var do dynamoOrder
	if err := attributevalue.UnmarshalMap(item, &do); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}

	var lines []order.Line
	if err := json.Unmarshal([]byte(do.Lines), &lines); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order lines: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, do.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, do.UpdatedAt)

	o := &order.Order{
		ID:                 do.ID,
		UserID:             do.UserID,
		Lines:              lines,
		ShippingAddress:    do.ShippingAddress,
		SubtotalCents:      do.SubtotalCents,
		TaxCents:           do.TaxCents,
		ShippingCents:      do.ShippingCents,
		TotalCents:         do.TotalCents,
		PaymentMethod:      order.PaymentMethod(do.PaymentMethod),
		PaymentStatus:      order.PaymentStatus(do.PaymentStatus),
		Status:             order.Status(do.Status),
		TrackingNumber:     do.TrackingNumber,
		ExternalPaymentRef: do.ExternalPaymentRef,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}
	if do.EstimatedDelivery != "" {
		eta, err := time.Parse(time.RFC3339Nano, do.EstimatedDelivery)
		if err == nil {
			o.EstimatedDelivery = &eta
		}
	}

	return o, nil
}

func (s *DynamoStore) CreateOrder(ctx context.Context, o *order.Order) error {
	av, err := marshalDynamoOrder(o)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.ordersTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to put order: %w", err)
	}
	return nil
}

func (s *DynamoStore) SaveOrder(ctx context.Context, o *order.Order) error {
	av, err := marshalDynamoOrder(o)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.ordersTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return order.ErrOrderNotFound
		}
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// SaveOrderFrom guards the overwrite with a condition on the stored
// status so two concurrent transitions cannot both win.
func (s *DynamoStore) SaveOrderFrom(ctx context.Context, o *order.Order, from order.Status) error {
	av, err := marshalDynamoOrder(o)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.ordersTable),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_exists(id) AND #st = :from"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusConflict
		}
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ordersTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if result.Item == nil {
		return nil, order.ErrOrderNotFound
	}

	return unmarshalDynamoOrder(result.Item)
}

// ListOrdersByUser queries the user_id GSI.
func (s *DynamoStore) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ordersTable),
		IndexName:              aws.String("user_id-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	return s.unmarshalOrders(result.Items)
}

func (s *DynamoStore) ListOrders(ctx context.Context) ([]*order.Order, error) {
	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.ordersTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}

	return s.unmarshalOrders(result.Items)
}

func (s *DynamoStore) unmarshalOrders(items []map[string]types.AttributeValue) ([]*order.Order, error) {
	orders := make([]*order.Order, 0, len(items))
	for _, item := range items {
		o, err := unmarshalDynamoOrder(item)
		if err != nil {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *DynamoStore) DeleteOrder(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.ordersTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// dynamoUser is the DynamoDB item structure for an account.
type dynamoUser struct {
	ID           string `dynamodbav:"id"`
	Email        string `dynamodbav:"email"`
	PasswordHash string `dynamodbav:"password_hash"`
	Name         string `dynamodbav:"name"`
	Role         string `dynamodbav:"role"`
	IsActive     bool   `dynamodbav:"is_active"`
	CreatedAt    string `dynamodbav:"created_at"`
	UpdatedAt    string `dynamodbav:"updated_at"`
}

func (s *DynamoStore) CreateUser(ctx context.Context, u *user.User) error {
	item := dynamoUser{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		Role:         u.Role,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    u.UpdatedAt.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.usersTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetUser(ctx context.Context, id string) (*user.User, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.usersTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if result.Item == nil {
		return nil, user.ErrUserNotFound
	}

	return unmarshalDynamoUser(result.Item)
}

// GetUserByEmail queries the email GSI.
func (s *DynamoStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.usersTable),
		IndexName:              aws.String("email-index"),
		KeyConditionExpression: aws.String("email = :email"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, user.ErrUserNotFound
	}

	return unmarshalDynamoUser(result.Items[0])
}

func unmarshalDynamoUser(item map[string]types.AttributeValue) (*user.User, error) {
	var du dynamoUser
	if err := attributevalue.UnmarshalMap(item, &du); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, du.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, du.UpdatedAt)

	return &user.User{
		ID:           du.ID,
		Email:        du.Email,
		PasswordHash: du.PasswordHash,
		Name:         du.Name,
		Role:         du.Role,
		IsActive:     du.IsActive,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}
