package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeTransferAPI interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
}

type stripeAccountAPI interface {
	New(params *stripe.AccountParams) (*stripe.Account, error)
}

type stripeClients struct {
	intents   stripeIntentAPI
	transfers stripeTransferAPI
	accounts  stripeAccountAPI
}

// StripeGateway реализует Gateway поверх Stripe API.
type StripeGateway struct {
	api stripeClients
}

// StripeGatewayConfig настраивает StripeGateway. Clients подменяется
// в тестах, в боевом режиме достаточно APIKey.
type StripeGatewayConfig struct {
	APIKey  string
	Clients *stripeClients
}

// NewStripeGateway создаёт шлюз.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	if cfg.Clients != nil {
		return &StripeGateway{api: *cfg.Clients}, nil
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}

	sc := client.New(apiKey, nil)
	return &StripeGateway{api: stripeClients{
		intents:   sc.PaymentIntents,
		transfers: sc.Transfers,
		accounts:  sc.Accounts,
	}}, nil
}

// Authorize создаёт PaymentIntent и возвращает client secret для
// подтверждения платежа на клиенте.
func (g *StripeGateway) Authorize(ctx context.Context, amount float64, currency string, metadata map[string]string) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(amount)),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	if len(metadata) > 0 {
		params.Metadata = metadata
	}
	// Одна оплата на контракт: повторная авторизация вернёт то же намерение.
	if key := metadata["contract_id"]; key != "" {
		params.SetIdempotencyKey("contract_" + key)
	}

	intent, err := g.api.intents.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &Authorization{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// Transfer отправляет деньги на подключённый счёт продавца.
func (g *StripeGateway) Transfer(ctx context.Context, amount float64, destinationAccount string, metadata map[string]string) (*TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(toMinorUnits(amount)),
		Currency:    stripe.String(string(stripe.CurrencyEUR)),
		Destination: stripe.String(destinationAccount),
	}
	params.Context = ctx
	if len(metadata) > 0 {
		params.Metadata = metadata
	}
	if key := metadata["payout_id"]; key != "" {
		params.SetIdempotencyKey("payout_" + key)
	}

	transfer, err := g.api.transfers.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &TransferResult{ID: transfer.ID}, nil
}

// CreatePayee регистрирует Express-счёт продавца.
func (g *StripeGateway) CreatePayee(ctx context.Context, email, country string) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Email:   stripe.String(email),
		Country: stripe.String(strings.ToUpper(country)),
	}
	params.Context = ctx

	account, err := g.api.accounts.New(params)
	if err != nil {
		return "", wrapStripeError(err)
	}

	return account.ID, nil
}

// toMinorUnits переводит евро в центы без плавающей погрешности.
func toMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &GatewayError{Code: string(stripeErr.Code), Message: stripeErr.Msg}
	}
	return &GatewayError{Code: "unknown", Message: err.Error()}
}
