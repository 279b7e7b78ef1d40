// Package invest adapts the Invest API SDK to the engine's broker and feed
// interfaces.
package invest

import (
	"context"
	"errors"
	"fmt"

	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultEndpoint = "https://invest-public-api.tinkoff.ru:443"

// Config holds connection settings for the SDK client.
type Config struct {
	Endpoint      string
	Token         string
	AppName       string
	AccountID     string
	SkipTLSVerify bool
}

// Connect opens an SDK client; callers must Stop it.
func Connect(ctx context.Context, cfg Config, logger *logrus.Logger) (*investgo.Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("invest token is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client, err := investgo.NewClient(ctx, investgo.Config{
		EndPoint:           endpoint,
		Token:              cfg.Token,
		AppName:            cfg.AppName,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create invest api client: %w", err)
	}
	return client, nil
}

// isRejection reports whether err is the broker refusing a request rather
// than a transport failure.
func isRejection(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.ResourceExhausted, codes.OutOfRange, codes.NotFound:
		return true
	default:
		return false
	}
}

// isPermanent reports whether retrying the stream cannot help.
func isPermanent(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument:
		return true
	default:
		return false
	}
}
