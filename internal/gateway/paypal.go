package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
)

// PaymentGateway описывает внешний платёжный провайдер. Сервисы зависят
// только от этого интерфейса, конкретный провайдер подставляется при сборке.
type PaymentGateway interface {
	// CreateOrder создаёт платёжный ордер и возвращает его id и ссылку
	// для подтверждения плательщиком.
	CreateOrder(ctx context.Context, amount float64, currency, description string) (orderID, approveURL string, err error)
	// CaptureOrder подтверждает ранее одобренный ордер и возвращает id
	// транзакции и фактически списанную сумму.
	CaptureOrder(ctx context.Context, orderID string) (transactionID string, amount float64, err error)
	// CreatePayout отправляет выплату на внешний счёт получателя.
	CreatePayout(ctx context.Context, receiverEmail string, amount float64, note string) (batchID string, err error)
}

// PayPalClient реализует PaymentGateway поверх PayPal REST API v2.
type PayPalClient struct {
	baseURL    string
	clientID   string
	secret     string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalClient создаёт клиента PayPal.
func NewPayPalClient(baseURL, clientID, secret string) *PayPalClient {
	return &PayPalClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateOrder создаёт ордер на пополнение баланса.
func (c *PayPalClient) CreateOrder(ctx context.Context, amount float64, currency, description string) (string, string, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": map[string]string{
				"currency_code": currency,
				"value":         formatAmount(amount),
			},
			"description": description,
		}},
	}

	var resp struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, &resp); err != nil {
		return "", "", err
	}

	approveURL := ""
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
		}
	}

	return resp.ID, approveURL, nil
}

// CaptureOrder подтверждает одобренный плательщиком ордер.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (string, float64, error) {
	var resp struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Amount struct {
						Value string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]any{}, &resp); err != nil {
		return "", 0, err
	}

	if resp.Status != "COMPLETED" {
		return "", 0, apperror.New(apperror.ErrCodeDownstream, "платёж не подтверждён провайдером")
	}

	for _, unit := range resp.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			amount, err := strconv.ParseFloat(capture.Amount.Value, 64)
			if err != nil {
				return "", 0, apperror.Wrap(err, apperror.ErrCodeDownstream, "провайдер вернул некорректную сумму")
			}
			return capture.ID, amount, nil
		}
	}

	return "", 0, apperror.New(apperror.ErrCodeDownstream, "в ответе провайдера нет capture")
}

// CreatePayout отправляет выплату фрилансеру на его PayPal аккаунт.
func (c *PayPalClient) CreatePayout(ctx context.Context, receiverEmail string, amount float64, note string) (string, error) {
	body := map[string]any{
		"sender_batch_header": map[string]string{
			"email_subject": "Выплата с площадки",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       receiverEmail,
			"note":           note,
			"amount": map[string]string{
				"currency": "USD",
				"value":    formatAmount(amount),
			},
		}},
	}

	var resp struct {
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
		} `json:"batch_header"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/payments/payouts", body, &resp); err != nil {
		return "", err
	}

	return resp.BatchHeader.PayoutBatchID, nil
}

// token возвращает действующий access token, обновляя его при истечении.
func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeDownstream, "платёжный провайдер недоступен")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperror.New(apperror.ErrCodeDownstream, fmt.Sprintf("провайдер отклонил авторизацию: %d", resp.StatusCode))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeDownstream, "некорректный ответ провайдера")
	}

	c.accessToken = tokenResp.AccessToken
	// Обновляем токен за минуту до фактического истечения.
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)

	return c.accessToken, nil
}

func (c *PayPalClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	accessToken, err := c.token(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDownstream, "платёжный провайдер недоступен")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperror.New(apperror.ErrCodeDownstream, fmt.Sprintf("провайдер вернул статус %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeDownstream, "некорректный ответ провайдера")
		}
	}
	return nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
