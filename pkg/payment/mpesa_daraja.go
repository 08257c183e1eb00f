package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DarajaConfig holds Safaricom Daraja credentials for Lipa Na M-Pesa Online.
type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// DarajaClient implements STK push against the Daraja API.
type DarajaClient struct {
	cfg    DarajaConfig
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
}

func NewDarajaClient(cfg DarajaConfig) *DarajaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.safaricom.co.ke"
	}
	return &DarajaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

// accessToken returns the cached token while it is valid, otherwise fetches a new one
// bound to ctx. Daraja tokens live an hour.
func (d *DarajaClient) accessToken(ctx context.Context) (*oauth2.Token, error) {
	d.mu.Lock()
	cached := d.token
	d.mu.Unlock()
	src := &darajaTokenSource{ctx: ctx, cfg: d.cfg, client: d.client}
	tok, err := oauth2.ReuseTokenSource(cached, src).Token()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.token = tok
	d.mu.Unlock()
	return tok, nil
}

// darajaTokenSource fetches client-credential tokens. Daraja uses GET with basic
// auth rather than the standard form POST, so clientcredentials.Config can't be used.
type darajaTokenSource struct {
	ctx    context.Context
	cfg    DarajaConfig
	client *http.Client
}

type darajaTokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (s *darajaTokenSource) Token() (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.cfg.ConsumerKey, s.cfg.ConsumerSecret)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "daraja oauth", StatusCode: resp.StatusCode, Body: string(body)}
	}
	var out darajaTokenResp
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("daraja oauth: empty access token")
	}
	secs, err := strconv.Atoi(out.ExpiresIn)
	if err != nil || secs <= 0 {
		secs = 3599
	}
	return &oauth2.Token{
		AccessToken: out.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(secs-60) * time.Second),
	}, nil
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPush sends the payment prompt. The returned CheckoutRequestID is echoed in the callback.
func (d *DarajaClient) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	tok, err := d.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("daraja auth: %w", err)
	}
	ts := d.now().In(nairobi).Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(d.cfg.ShortCode + d.cfg.Passkey + ts))
	desc := req.Description
	if desc == "" {
		desc = "Order payment"
	}
	payload := stkPushBody{
		BusinessShortCode: d.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            d.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       d.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   desc,
	}
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(apiReq)
	log.Printf("[MPESA] POST stkpush account_ref=%s amount=%d phone=%s", req.AccountReference, req.Amount, req.PhoneNumber)
	resp, err := d.client.Do(apiReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	log.Printf("[MPESA] stkpush response status=%d body=%s", resp.StatusCode, string(respBody))
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "daraja stkpush", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	var out STKPushResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return nil, &APIError{Provider: "daraja stkpush", StatusCode: resp.StatusCode, Body: out.ResponseDescription}
	}
	return &out, nil
}
