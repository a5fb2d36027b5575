// Package client 健康平台数据拉取
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-sleep/internal/models"
)

// Token 健康平台网关认证
type Token struct {
	AppID     string `json:"appId"`
	SecureKey string `json:"secureKey"`
}

// Request 网关请求
type Request struct {
	Token *Token         `json:"token"`
	Data  map[string]any `json:"data"`
}

// Response 网关响应，Data 为来源原生的睡眠文档
type Response struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// HealthStoreClient 健康平台网关客户端
//
// 只负责拉取原始文档，解码交给 decoder。不做重试。
type HealthStoreClient struct {
	httpClient *resty.Client
	token      *Token
	logger     *zap.Logger
}

// NewHealthStoreClient 创建健康平台客户端
func NewHealthStoreClient(baseURL, appID, secretKey string, logger *zap.Logger) *HealthStoreClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HealthStoreClient{
		httpClient: client,
		token: &Token{
			AppID:     appID,
			SecureKey: secretKey,
		},
		logger: logger,
	}
}

// FetchSleep 拉取用户在 [from, to] 内的睡眠文档
func (c *HealthStoreClient) FetchSleep(ctx context.Context, source models.SourceKind, userID string, from, to time.Time) ([]byte, error) {
	if source.IsBLE() {
		return nil, &models.DecodeError{Kind: models.ErrUnrecognizedSource, Source: source}
	}

	request := Request{
		Token: c.token,
		Data: map[string]any{
			"userId":    userID,
			"startTime": from.Unix(),
			"endTime":   to.Unix(),
		},
	}

	c.logger.Info("Calling health store API",
		zap.String("source", string(source)),
		zap.String("user_id", userID),
		zap.Int64("start_time", from.Unix()),
		zap.Int64("end_time", to.Unix()),
	)

	var response Response
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		SetPathParam("source", string(source)).
		Post("/v1/{source}/sleep")
	if err != nil {
		c.logger.Error("Health store API call failed",
			zap.String("source", string(source)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to call health store API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("health store API returned HTTP %d", resp.StatusCode())
	}

	if response.Status != 0 {
		c.logger.Error("Health store API returned error",
			zap.Int("status", response.Status),
			zap.String("msg", response.Msg),
		)
		return nil, fmt.Errorf("health store API error: %s (status: %d)", response.Msg, response.Status)
	}
	if len(response.Data) == 0 || string(response.Data) == "null" {
		return nil, fmt.Errorf("health store API returned no document")
	}

	c.logger.Info("Retrieved sleep document from health store",
		zap.String("source", string(source)),
		zap.Int("bytes", len(response.Data)),
	)
	return response.Data, nil
}
