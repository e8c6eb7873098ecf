package payment

import (
	"context"
	"fmt"
)

// Authorization — результат создания платёжного намерения на шлюзе.
type Authorization struct {
	ID           string
	ClientSecret string
}

// TransferResult — результат исходящего перевода продавцу.
type TransferResult struct {
	ID string
}

// Gateway абстрагирует платёжный шлюз. Суммы передаются в евро,
// реализация сама переводит их в минимальные единицы.
type Gateway interface {
	// Authorize создаёт платёжное намерение на amount евро.
	Authorize(ctx context.Context, amount float64, currency string, metadata map[string]string) (*Authorization, error)
	// Transfer отправляет amount евро на подключённый счёт продавца.
	Transfer(ctx context.Context, amount float64, destinationAccount string, metadata map[string]string) (*TransferResult, error)
	// CreatePayee регистрирует продавца на шлюзе и возвращает
	// идентификатор его счёта для будущих переводов.
	CreatePayee(ctx context.Context, email, country string) (string, error)
}

// GatewayError — типизированная ошибка шлюза. Код сохраняется в выплате
// для диагностики, сообщение не показывается пользователю напрямую.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s (%s)", e.Message, e.Code)
}
